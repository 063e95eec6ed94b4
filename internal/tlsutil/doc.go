// Package tlsutil 构建出站生成服务调用使用的 HTTP 客户端：TLS 1.2+，仅 AEAD 密码套件，
// 每主机连接数与准入门并发上限对齐。
package tlsutil
