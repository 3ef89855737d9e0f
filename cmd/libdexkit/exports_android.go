//go:build android && cgo

package main

/*
#cgo LDFLAGS: -llog
#include <stdlib.h>
#include <jni.h>
#include <android/log.h>
*/
import "C"

import (
	"io"
	"sync"
	"unsafe"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/bridge"
	"github.com/apk-analysis/dexkit-bridge/internal/config"
	"github.com/apk-analysis/dexkit-bridge/internal/engine"
)

var (
	once       sync.Once
	dispatcher *bridge.Bridge
)

// shared 进程内唯一的分发器；配置只来自 DEXKIT_* 环境变量
func shared() *bridge.Bridge {
	once.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			cfg = config.Default()
		}
		logger := config.NewLogger(&cfg.Log, io.Discard)
		logger.AddHook(newLogcatHook(androidLogWrite))
		if err != nil {
			logger.WithError(err).Warn("invalid DEXKIT_* environment, using defaults")
		}
		walker := art.NewWalker(nil, nil, cfg.Bridge.Layout(), logger)
		dispatcher = bridge.New(engine.NewFactory(cfg.Bridge.ThreadNum), walker, logger, nil, nil)
	})
	return dispatcher
}

func androidLogWrite(prio int, tag, msg string) {
	ctag := C.CString(tag)
	defer C.free(unsafe.Pointer(ctag))
	cmsg := C.CString(msg)
	defer C.free(unsafe.Pointer(cmsg))
	C.__android_log_write(C.int(prio), ctag, cmsg)
}

func object(p unsafe.Pointer) art.Object {
	return art.Object(uintptr(p))
}

//export Java_io_luckypray_dexkit_DexKitBridge_nativeInitDexKit
func Java_io_luckypray_dexkit_DexKitBridge_nativeInitDexKit(env *C.JNIEnv, clazz C.jclass, apkPath C.jstring) C.jlong {
	if apkPath == nil {
		return 0
	}
	path, err := art.NewJNIEnv(unsafe.Pointer(env)).GetStringUTFChars(object(unsafe.Pointer(apkPath)))
	if err != nil {
		return 0
	}
	return C.jlong(shared().InitFromPath(path))
}

//export Java_io_luckypray_dexkit_DexKitBridge_nativeInitDexKitByClassLoader
func Java_io_luckypray_dexkit_DexKitBridge_nativeInitDexKitByClassLoader(env *C.JNIEnv, clazz C.jclass, classLoader C.jobject) C.jlong {
	if classLoader == nil {
		return 0
	}
	jenv := art.NewJNIEnv(unsafe.Pointer(env))
	return C.jlong(shared().InitFromLoader(jenv, object(unsafe.Pointer(classLoader))))
}

//export Java_io_luckypray_dexkit_DexKitBridge_nativeSetThreadNum
func Java_io_luckypray_dexkit_DexKitBridge_nativeSetThreadNum(env *C.JNIEnv, clazz C.jclass, nativePtr C.jlong, threadNum C.jint) {
	_ = shared().SetThreadNum(int64(nativePtr), int(threadNum))
}

//export Java_io_luckypray_dexkit_DexKitBridge_nativeGetDexNum
func Java_io_luckypray_dexkit_DexKitBridge_nativeGetDexNum(env *C.JNIEnv, clazz C.jclass, nativePtr C.jlong) C.jint {
	return C.jint(shared().DexNum(int64(nativePtr)))
}

//export Java_io_luckypray_dexkit_DexKitBridge_nativeRelease
func Java_io_luckypray_dexkit_DexKitBridge_nativeRelease(env *C.JNIEnv, clazz C.jclass, nativePtr C.jlong) {
	shared().Release(int64(nativePtr))
}
