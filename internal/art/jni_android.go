//go:build android && cgo

package art

/*
#include <jni.h>
#include <stdlib.h>

static jclass dk_find_class(JNIEnv *env, const char *name) {
	jclass cls = (*env)->FindClass(env, name);
	if ((*env)->ExceptionCheck(env)) {
		(*env)->ExceptionClear(env);
		return NULL;
	}
	return cls;
}

static jfieldID dk_get_field_id(JNIEnv *env, jclass cls, const char *name, const char *sig) {
	jfieldID id = (*env)->GetFieldID(env, cls, name, sig);
	if ((*env)->ExceptionCheck(env)) {
		(*env)->ExceptionClear(env);
		return NULL;
	}
	return id;
}

static jobject dk_get_object_field(JNIEnv *env, jobject obj, jfieldID field) {
	return (*env)->GetObjectField(env, obj, field);
}

static jsize dk_get_array_length(JNIEnv *env, jarray arr) {
	return (*env)->GetArrayLength(env, arr);
}

static jobject dk_get_object_array_element(JNIEnv *env, jobjectArray arr, jsize index) {
	return (*env)->GetObjectArrayElement(env, arr, index);
}

static jlong *dk_get_long_array_elements(JNIEnv *env, jlongArray arr) {
	return (*env)->GetLongArrayElements(env, arr, NULL);
}

static void dk_release_long_array_elements(JNIEnv *env, jlongArray arr, jlong *elems) {
	(*env)->ReleaseLongArrayElements(env, arr, elems, JNI_ABORT);
}

static const char *dk_get_string_utf_chars(JNIEnv *env, jstring str) {
	return (*env)->GetStringUTFChars(env, str, NULL);
}

static void dk_release_string_utf_chars(JNIEnv *env, jstring str, const char *chars) {
	(*env)->ReleaseStringUTFChars(env, str, chars);
}

static void dk_delete_local_ref(JNIEnv *env, jobject obj) {
	(*env)->DeleteLocalRef(env, obj);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// JNIEnv 基于 *C.JNIEnv 的 Env 实现，只能在创建它的线程上使用
type JNIEnv struct {
	env    *C.JNIEnv
	pinned map[Object]*C.jlong
}

// NewJNIEnv 包装 JNI 回调传入的 JNIEnv 指针
func NewJNIEnv(env unsafe.Pointer) *JNIEnv {
	return &JNIEnv{
		env:    (*C.JNIEnv)(env),
		pinned: make(map[Object]*C.jlong),
	}
}

func jobject(o Object) C.jobject {
	return C.jobject(unsafe.Pointer(uintptr(o)))
}

// FindClass 实现 Env
func (e *JNIEnv) FindClass(name string) (Class, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	cls := C.dk_find_class(e.env, cName)
	if cls == nil {
		return 0, fmt.Errorf("couldn't find class %q", name)
	}
	return Class(uintptr(unsafe.Pointer(cls))), nil
}

// GetFieldID 实现 Env
func (e *JNIEnv) GetFieldID(cls Class, name, sig string) (FieldID, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	cSig := C.CString(sig)
	defer C.free(unsafe.Pointer(cSig))

	// Note: the validity of the field is bounded by the lifetime of the
	// ClassLoader that did the loading of the class.
	field := C.dk_get_field_id(e.env, C.jclass(jobject(Object(cls))), cName, cSig)
	if field == nil {
		return 0, fmt.Errorf("couldn't get field %q with signature %s", name, sig)
	}
	return FieldID(uintptr(unsafe.Pointer(field))), nil
}

// GetObjectField 实现 Env
func (e *JNIEnv) GetObjectField(obj Object, field FieldID) Object {
	id := C.jfieldID(unsafe.Pointer(uintptr(field)))
	return Object(uintptr(unsafe.Pointer(C.dk_get_object_field(e.env, jobject(obj), id))))
}

// GetArrayLength 实现 Env
func (e *JNIEnv) GetArrayLength(arr Object) int {
	return int(C.dk_get_array_length(e.env, C.jarray(jobject(arr))))
}

// GetObjectArrayElement 实现 Env
func (e *JNIEnv) GetObjectArrayElement(arr Object, index int) Object {
	elem := C.dk_get_object_array_element(e.env, C.jobjectArray(jobject(arr)), C.jsize(index))
	return Object(uintptr(unsafe.Pointer(elem)))
}

// GetLongArrayElements 实现 Env；返回的切片直接引用运行时的元素缓冲
func (e *JNIEnv) GetLongArrayElements(arr Object) ([]int64, error) {
	n := e.GetArrayLength(arr)
	p := C.dk_get_long_array_elements(e.env, C.jlongArray(jobject(arr)))
	if p == nil {
		return nil, fmt.Errorf("GetLongArrayElements returned null")
	}
	e.pinned[arr] = p
	return unsafe.Slice((*int64)(unsafe.Pointer(p)), n), nil
}

// ReleaseLongArrayElements 实现 Env
func (e *JNIEnv) ReleaseLongArrayElements(arr Object, _ []int64) {
	p, ok := e.pinned[arr]
	if !ok {
		return
	}
	delete(e.pinned, arr)
	C.dk_release_long_array_elements(e.env, C.jlongArray(jobject(arr)), p)
}

// GetStringUTFChars 实现 Env；复制后立即释放
func (e *JNIEnv) GetStringUTFChars(str Object) (string, error) {
	jstr := C.jstring(jobject(str))
	chars := C.dk_get_string_utf_chars(e.env, jstr)
	if chars == nil {
		return "", fmt.Errorf("GetStringUTFChars returned null")
	}
	defer C.dk_release_string_utf_chars(e.env, jstr, chars)
	return C.GoString(chars), nil
}

// DeleteLocalRef 实现 Env
func (e *JNIEnv) DeleteLocalRef(obj Object) {
	if obj == 0 {
		return
	}
	C.dk_delete_local_ref(e.env, jobject(obj))
}
