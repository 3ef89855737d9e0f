// libdexkit 是 DexKitBridge 的 JNI 共享库：
//
//	GOOS=android CGO_ENABLED=1 go build -buildmode=c-shared -o libdexkit.so ./cmd/libdexkit
//
// 非 android 构建只产出空程序。
package main

func main() {}
