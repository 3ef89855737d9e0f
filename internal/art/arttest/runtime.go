// Package arttest 提供内存中的假运行时，用于测试类加载器遍历。
package arttest

import (
	"fmt"
	"sync"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
)

type fieldKey struct {
	class art.Class
	name  string
	sig   string
}

type object struct {
	fields   map[art.FieldID]art.Object
	elements []art.Object // Object[]
	longs    []int64      // long[]
	str      *string      // java.lang.String
}

// ElementSpec 描述 dexElements 中的一个元素
type ElementSpec struct {
	Null      bool    // 数组槽位本身为 null
	NoDexFile bool    // dexFile 为 null
	NoCookie  bool    // mCookie 为 null
	Cookie    []int64 // mCookie 内容
	FileName  string  // mFileName，空串表示 null
}

// Runtime 实现 art.Env 的假运行时，统计本地引用与字段查找次数
type Runtime struct {
	mu sync.Mutex

	classes map[string]art.Class
	fields  map[fieldKey]art.FieldID
	objects map[art.Object]*object
	nextID  uintptr

	failClass map[string]bool
	failField map[string]bool

	lookups  int
	liveRefs int
	pinned   int
}

// NewRuntime 创建带有 dalvik 类与字段定义的假运行时
func NewRuntime() *Runtime {
	r := &Runtime{
		classes:   make(map[string]art.Class),
		fields:    make(map[fieldKey]art.FieldID),
		objects:   make(map[art.Object]*object),
		nextID:    0x100,
		failClass: make(map[string]bool),
		failField: make(map[string]bool),
	}
	r.defineField(art.ClassBaseDexClassLoader, "pathList", "Ldalvik/system/DexPathList;")
	r.defineField(art.ClassDexPathList, "dexElements", "[Ldalvik/system/DexPathList$Element;")
	r.defineField(art.ClassDexPathElement, "dexFile", "Ldalvik/system/DexFile;")
	r.defineField(art.ClassDexFile, "mCookie", "Ljava/lang/Object;")
	r.defineField(art.ClassDexFile, "mFileName", "Ljava/lang/String;")
	return r
}

func (r *Runtime) id() uintptr {
	r.nextID++
	return r.nextID
}

func (r *Runtime) defineField(class, name, sig string) {
	cls, ok := r.classes[class]
	if !ok {
		cls = art.Class(r.id())
		r.classes[class] = cls
	}
	r.fields[fieldKey{cls, name, sig}] = art.FieldID(r.id())
}

func (r *Runtime) field(class, name string) art.FieldID {
	cls := r.classes[class]
	for k, v := range r.fields {
		if k.class == cls && k.name == name {
			return v
		}
	}
	panic(fmt.Sprintf("arttest: undefined field %s.%s", class, name))
}

func (r *Runtime) newObject(o *object) art.Object {
	if o.fields == nil {
		o.fields = make(map[art.FieldID]art.Object)
	}
	ref := art.Object(r.id())
	r.objects[ref] = o
	return ref
}

// FailClass 之后 FindClass(name) 返回错误
func (r *Runtime) FailClass(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failClass[name] = true
}

// FailField 之后 GetFieldID(_, name, _) 返回 0
func (r *Runtime) FailField(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failField[name] = true
}

// ClearFailures 清除所有注入的查找失败
func (r *Runtime) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failClass = make(map[string]bool)
	r.failField = make(map[string]bool)
}

// Lookups FindClass 与 GetFieldID 的调用总次数
func (r *Runtime) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// LiveRefs 尚未删除的本地引用数
func (r *Runtime) LiveRefs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveRefs
}

// Pinned 尚未释放的 long[] 元素视图数
func (r *Runtime) Pinned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

// NewLoader 构造 BaseDexClassLoader → DexPathList → Element[] 对象图
func (r *Runtime) NewLoader(specs ...ElementSpec) art.Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	elems := make([]art.Object, len(specs))
	for i, s := range specs {
		if s.Null {
			continue
		}
		elem := &object{fields: make(map[art.FieldID]art.Object)}
		if !s.NoDexFile {
			dex := &object{fields: make(map[art.FieldID]art.Object)}
			if !s.NoCookie {
				cookie := make([]int64, len(s.Cookie))
				copy(cookie, s.Cookie)
				dex.fields[r.field(art.ClassDexFile, "mCookie")] = r.newObject(&object{longs: cookie})
			}
			if s.FileName != "" {
				name := s.FileName
				dex.fields[r.field(art.ClassDexFile, "mFileName")] = r.newObject(&object{str: &name})
			}
			elem.fields[r.field(art.ClassDexPathElement, "dexFile")] = r.newObject(dex)
		}
		elems[i] = r.newObject(elem)
	}

	arr := r.newObject(&object{elements: elems})
	pathList := r.newObject(&object{fields: map[art.FieldID]art.Object{
		r.field(art.ClassDexPathList, "dexElements"): arr,
	}})
	return r.newObject(&object{fields: map[art.FieldID]art.Object{
		r.field(art.ClassBaseDexClassLoader, "pathList"): pathList,
	}})
}

// NewLoaderWithoutPathList 构造 pathList 为 null 的类加载器
func (r *Runtime) NewLoaderWithoutPathList() art.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newObject(&object{})
}

// NewLoaderWithoutElements 构造 dexElements 为 null 的类加载器
func (r *Runtime) NewLoaderWithoutElements() art.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	pathList := r.newObject(&object{})
	return r.newObject(&object{fields: map[art.FieldID]art.Object{
		r.field(art.ClassBaseDexClassLoader, "pathList"): pathList,
	}})
}

// FindClass 实现 art.Env
func (r *Runtime) FindClass(name string) (art.Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.failClass[name] {
		return 0, fmt.Errorf("java.lang.NoClassDefFoundError: %s", name)
	}
	cls, ok := r.classes[name]
	if !ok {
		return 0, nil
	}
	r.liveRefs++
	return cls, nil
}

// GetFieldID 实现 art.Env
func (r *Runtime) GetFieldID(cls art.Class, name, sig string) (art.FieldID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.failField[name] {
		return 0, nil
	}
	return r.fields[fieldKey{cls, name, sig}], nil
}

// GetObjectField 实现 art.Env
func (r *Runtime) GetObjectField(obj art.Object, field art.FieldID) art.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[obj]
	if !ok {
		panic(fmt.Sprintf("arttest: GetObjectField on unknown object %#x", obj))
	}
	v := o.fields[field]
	if v != 0 {
		r.liveRefs++
	}
	return v
}

// GetArrayLength 实现 art.Env
func (r *Runtime) GetArrayLength(arr art.Object) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[arr]
	if o.longs != nil {
		return len(o.longs)
	}
	return len(o.elements)
}

// GetObjectArrayElement 实现 art.Env
func (r *Runtime) GetObjectArrayElement(arr art.Object, index int) art.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.objects[arr].elements[index]
	if v != 0 {
		r.liveRefs++
	}
	return v
}

// GetLongArrayElements 实现 art.Env
func (r *Runtime) GetLongArrayElements(arr art.Object) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[arr]
	if o.longs == nil {
		return nil, fmt.Errorf("object %#x is not a long[]", arr)
	}
	r.pinned++
	out := make([]int64, len(o.longs))
	copy(out, o.longs)
	return out, nil
}

// ReleaseLongArrayElements 实现 art.Env
func (r *Runtime) ReleaseLongArrayElements(arr art.Object, elems []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinned--
}

// GetStringUTFChars 实现 art.Env
func (r *Runtime) GetStringUTFChars(str art.Object) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[str]
	if o == nil || o.str == nil {
		return "", fmt.Errorf("object %#x is not a string", str)
	}
	return *o.str, nil
}

// DeleteLocalRef 实现 art.Env
func (r *Runtime) DeleteLocalRef(obj art.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj != 0 {
		r.liveRefs--
	}
}

// Memory 在稀疏地址空间中布置 DEX 镜像与运行时描述符
type Memory struct {
	*memory.Map
	layout art.DescriptorLayout
	next   uintptr
}

// NewMemory 使用默认描述符布局
func NewMemory() *Memory {
	return &Memory{Map: memory.NewMap(), layout: art.DefaultDescriptorLayout(), next: 0x10000}
}

// Layout 描述符布局
func (m *Memory) Layout() art.DescriptorLayout {
	return m.layout
}

// Dex 放置一个以 magic 开头、长度为 size 的镜像及其描述符，返回描述符地址
func (m *Memory) Dex(magic string, size int) (int64, dexfile.Image) {
	if size < 8 {
		size = 8
	}
	data := make([]byte, size)
	copy(data, magic)
	begin := m.next
	m.Put(begin, data)
	m.next += (uintptr(size) + 0xfff) &^ 0xfff

	desc := m.next
	m.PutWords(desc, 0xfeedface) // vtable
	m.PutWords(desc+m.layout.BeginOffset, begin)
	m.PutWords(desc+m.layout.SizeOffset, uintptr(size))
	m.next += 0x1000

	return int64(desc), dexfile.Image{Begin: begin, Size: uint64(size)}
}

// Standard 放置一个标准 DEX
func (m *Memory) Standard(size int) (int64, dexfile.Image) {
	return m.Dex("dex\n035\x00", size)
}

// Compact 放置一个 compact dex
func (m *Memory) Compact(size int) (int64, dexfile.Image) {
	return m.Dex("cdex001\x00", size)
}
