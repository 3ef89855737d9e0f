package art

import (
	"errors"
	"fmt"
	"sync"
)

// 类加载器图上的类与字段签名
const (
	ClassBaseDexClassLoader = "dalvik/system/BaseDexClassLoader"
	ClassDexPathList        = "dalvik/system/DexPathList"
	ClassDexPathElement     = "dalvik/system/DexPathList$Element"
	ClassDexFile            = "dalvik/system/DexFile"

	sigDexPathList  = "Ldalvik/system/DexPathList;"
	sigElementArray = "[Ldalvik/system/DexPathList$Element;"
	sigDexFile      = "Ldalvik/system/DexFile;"
	sigObject       = "Ljava/lang/Object;"
	sigString       = "Ljava/lang/String;"
)

// ErrFieldCache 反射字段解析失败
var ErrFieldCache = errors.New("art: field descriptor cache unavailable")

// FieldHandles 遍历类加载器所需的五个字段句柄
type FieldHandles struct {
	PathList FieldID // BaseDexClassLoader.pathList
	Elements FieldID // DexPathList.dexElements
	DexFile  FieldID // DexPathList$Element.dexFile
	Cookie   FieldID // DexFile.mCookie
	FileName FieldID // DexFile.mFileName
}

// FieldCache 进程级一次性字段句柄缓存
//
// 五个句柄要么全部解析成功后一起发布，要么都不发布。失败的尝试不会改变
// 状态，之后的调用可以重试；成功后不再访问运行时。
type FieldCache struct {
	mu      sync.Mutex
	ready   bool
	handles FieldHandles
}

var sharedFieldCache FieldCache

// SharedFieldCache 返回进程级缓存
func SharedFieldCache() *FieldCache {
	return &sharedFieldCache
}

// Ensure 首次调用时解析所有句柄，之后为空操作
func (c *FieldCache) Ensure(env Env) (FieldHandles, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return c.handles, nil
	}

	h, err := resolveHandles(env)
	if err != nil {
		return FieldHandles{}, fmt.Errorf("%w: %v", ErrFieldCache, err)
	}
	c.handles = h
	c.ready = true
	return h, nil
}

// Ready 是否已完成初始化
func (c *FieldCache) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func resolveHandles(env Env) (FieldHandles, error) {
	var h FieldHandles
	lookups := []struct {
		class string
		name  string
		sig   string
		dst   *FieldID
	}{
		{ClassBaseDexClassLoader, "pathList", sigDexPathList, &h.PathList},
		{ClassDexPathList, "dexElements", sigElementArray, &h.Elements},
		{ClassDexPathElement, "dexFile", sigDexFile, &h.DexFile},
		{ClassDexFile, "mCookie", sigObject, &h.Cookie},
		{ClassDexFile, "mFileName", sigString, &h.FileName},
	}

	for _, l := range lookups {
		cls, err := env.FindClass(l.class)
		if err != nil {
			return FieldHandles{}, fmt.Errorf("find class %s: %w", l.class, err)
		}
		if cls == 0 {
			return FieldHandles{}, fmt.Errorf("class %s not found", l.class)
		}
		id, err := env.GetFieldID(cls, l.name, l.sig)
		env.DeleteLocalRef(Object(cls))
		if err != nil {
			return FieldHandles{}, fmt.Errorf("field %s.%s: %w", l.class, l.name, err)
		}
		if id == 0 {
			return FieldHandles{}, fmt.Errorf("field %s.%s not found", l.class, l.name)
		}
		*l.dst = id
	}
	return h, nil
}
