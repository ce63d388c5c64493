// Package backend 定义媒体获取后端的接口、按类型注册的工厂表以及按 kind 排序的路由器。
//
// 后端作者需要：
//   1. 在 internal/backend/<type>/ 目录下实现 AudioBackend 和/或 VideoBackend；
//   2. 在 init() 中通过 MustRegister 注册类型元数据与工厂；
//   3. 把产出写入 TempDir 下的临时文件，并通过 Stream.TempFile 交给调用方清理。
//
// Router 由服务启动时显式构建，启动完成后只读。
package backend
