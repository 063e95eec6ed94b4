// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理可复用的远端上下文句柄（context handle）。

# 概述

把固定指令与可变负载拼接后的内容做 SHA-256 指纹，作为清单键。
清单记录 指纹 -> {name, created, ttl_minutes}，命中且未过期时
按 name 向服务端解析句柄，避免重复创建代价高昂的上下文。

# 核心类型

  - Manager：查找 / 写入 / 按需创建 / 清理过期条目。
  - ManifestStore：清单存储接口，FileStore（JSON 文件）与 RedisStore 两种实现。
  - ContextService：远端上下文服务契约（创建、按名解析）。
  - TokenCounter：内容 Token 计数契约，远端 count_tokens 或本地分词器均可。

# 失效语义

  - 清单缺失或损坏视为空清单，不报错。
  - 时间戳无法解析、或 now - created > ttl 视为未命中（优先使用条目自带 ttl）。
  - 按名解析失败视为软未命中，返回 nil。
  - 创建失败区分 CACHE_RATE_LIMITED 与 CACHE_CREATION_FAILED，
    调用方可以不带句柄继续主调用。
*/
package cache
