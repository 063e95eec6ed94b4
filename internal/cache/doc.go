/*
包 cache 封装 go-redis 客户端，为上下文缓存清单的 Redis 后端提供连接管理。

Manager 以 JSON 文档的方式读写单个 key：GetJSON 读取并解码，
Update 在 WATCH/MULTI 事务中完成读-改-写，并在并发冲突时重试。
后台按 HealthCheckInterval 执行 Ping，Close 时停止。
*/
package cache
