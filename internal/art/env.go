// Package art reaches into the Android runtime's class loader graph to find
// DEX images that are already mapped in the current process.
//
// Everything that depends on non-public runtime layouts lives here: the
// reflective field handles (FieldCache), the DexFile cookie layout (Cookie)
// and the traversal itself (Walker).
package art

// Object 托管对象的本地引用，0 表示 null
type Object uintptr

// Class 托管类引用
type Class uintptr

// FieldID 反射字段句柄
type FieldID uintptr

// Env 托管运行时的反射访问接口，形状与 JNIEnv 一致
//
// GetObjectField 与 GetObjectArrayElement 返回的非空引用都是本地引用，
// 调用方负责 DeleteLocalRef。GetLongArrayElements 固定的数组必须通过
// ReleaseLongArrayElements 释放。
type Env interface {
	FindClass(name string) (Class, error)
	GetFieldID(cls Class, name, sig string) (FieldID, error)
	GetObjectField(obj Object, field FieldID) Object
	GetArrayLength(arr Object) int
	GetObjectArrayElement(arr Object, index int) Object
	GetLongArrayElements(arr Object) ([]int64, error)
	ReleaseLongArrayElements(arr Object, elems []int64)
	GetStringUTFChars(str Object) (string, error)
	DeleteLocalRef(obj Object)
}
