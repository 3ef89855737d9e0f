package art

import (
	"errors"
	"strings"

	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
	"github.com/sirupsen/logrus"
)

// LogTag 诊断日志标签
const LogTag = "DexKit"

// ErrNullLoader 类加载器为空
var ErrNullLoader = errors.New("art: null class loader")

// WalkResult 一次类加载器遍历的结果
type WalkResult struct {
	Images   []dexfile.Image // 按元素顺序、元素内下标降序
	APKPath  string          // 第一个内存路径无结果的元素上发现的 .apk 文件名
	Elements int             // dexElements 数组长度
	Skipped  int             // 缺少 dexFile / cookie 的元素
	Sentinel int             // cookie 哨兵非空的元素
	Tainted  int             // 含 compact dex 被整体丢弃的元素
}

// Walker 遍历 ClassLoader → pathList → dexElements → dexFile → mCookie
type Walker struct {
	fields *FieldCache
	mem    memory.Reader
	layout DescriptorLayout
	logger *logrus.Entry
}

// NewWalker 创建遍历器
func NewWalker(fields *FieldCache, mem memory.Reader, layout DescriptorLayout, logger *logrus.Logger) *Walker {
	if fields == nil {
		fields = SharedFieldCache()
	}
	if mem == nil {
		mem = memory.Process{}
	}
	return &Walker{
		fields: fields,
		mem:    mem,
		layout: layout,
		logger: logger.WithField("tag", LogTag),
	}
}

// Walk 收集 loader 已映射在内存中的标准 DEX 镜像
//
// 只有字段缓存初始化失败（或 loader 为空）时返回错误；路径上任何缺失的字段
// 只会让对应元素或整次遍历没有产出。
func (w *Walker) Walk(env Env, loader Object) (*WalkResult, error) {
	if loader == 0 {
		return nil, ErrNullLoader
	}
	h, err := w.fields.Ensure(env)
	if err != nil {
		return nil, err
	}

	res := &WalkResult{}

	pathList := env.GetObjectField(loader, h.PathList)
	if pathList == 0 {
		w.logger.Debug("class loader has no pathList")
		return res, nil
	}
	defer env.DeleteLocalRef(pathList)

	elements := env.GetObjectField(pathList, h.Elements)
	if elements == 0 {
		w.logger.Debug("pathList has no dexElements")
		return res, nil
	}
	defer env.DeleteLocalRef(elements)

	res.Elements = env.GetArrayLength(elements)
	w.logger.WithField("elements", res.Elements).Debug("elements size")

	for i := 0; i < res.Elements; i++ {
		w.walkElement(env, h, elements, i, res)
	}
	return res, nil
}

func (w *Walker) walkElement(env Env, h FieldHandles, elements Object, index int, res *WalkResult) {
	log := w.logger.WithField("element", index)

	element := env.GetObjectArrayElement(elements, index)
	if element == 0 {
		log.Debug("null element")
		res.Skipped++
		return
	}
	defer env.DeleteLocalRef(element)

	dexFile := env.GetObjectField(element, h.DexFile)
	if dexFile == 0 {
		log.Debug("element has no dexFile")
		res.Skipped++
		return
	}
	defer env.DeleteLocalRef(dexFile)

	cookieObj := env.GetObjectField(dexFile, h.Cookie)
	if cookieObj == 0 {
		log.Debug("dexFile has no mCookie")
		res.Skipped++
		return
	}
	defer env.DeleteLocalRef(cookieObj)

	elems, err := env.GetLongArrayElements(cookieObj)
	if err != nil {
		log.WithError(err).Debug("cannot read mCookie")
		res.Skipped++
		return
	}
	cookie := Cookie(elems)
	log.WithField("dex_file_length", len(cookie)).Info("dex_file_length")

	var dexImages []dexfile.Image
	if cookie.Sentinel() != 0 {
		log.Debug("cookie sentinel set, no in-memory images")
		res.Sentinel++
	} else {
		var tainted bool
		dexImages, tainted = w.scanCookie(cookie, log)
		if tainted {
			res.Tainted++
		}
	}
	env.ReleaseLongArrayElements(cookieObj, elems)

	if len(dexImages) == 0 && res.APKPath == "" {
		w.harvestFileName(env, h, dexFile, log, res)
		return
	}
	res.Images = append(res.Images, dexImages...)
}

// scanCookie 按下标降序扫描描述符：空槽清空已收集的镜像并继续，非标准 DEX
// 清空并终止
func (w *Walker) scanCookie(cookie Cookie, log *logrus.Entry) ([]dexfile.Image, bool) {
	var images []dexfile.Image
	for k, addr := range cookie.Descriptors() {
		slot := len(cookie) - 1 - k
		if addr == 0 {
			log.WithField("slot", slot).Debug("skip empty dex file")
			images = images[:0]
			continue
		}

		img, err := ReadDescriptor(w.mem, addr, w.layout)
		if err != nil || !dexfile.IsStandardAt(w.mem, img.Begin) {
			entry := log.WithField("slot", slot)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Debug("skip compact dex")
			return nil, true
		}

		log.WithFields(logrus.Fields{
			"slot":       slot,
			"image_size": img.Size,
		}).Debug("push dex file")
		images = append(images, img)
	}
	return images, false
}

func (w *Walker) harvestFileName(env Env, h FieldHandles, dexFile Object, log *logrus.Entry, res *WalkResult) {
	nameObj := env.GetObjectField(dexFile, h.FileName)
	if nameObj == 0 {
		return
	}
	defer env.DeleteLocalRef(nameObj)

	name, err := env.GetStringUTFChars(nameObj)
	if err != nil {
		log.WithError(err).Debug("cannot read mFileName")
		return
	}
	log.WithField("file_name", name).Debug("dex filename")
	if strings.HasSuffix(name, ".apk") {
		res.APKPath = name
		log.WithField("apk_path", name).Info("apk path adopted")
	}
}
