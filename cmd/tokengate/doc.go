/*
Package main 提供 tokengate 命令行入口。

# 子命令

  - call      执行一次调用，可选上下文缓存，输出结果与成本快照
  - batch     按行读取提示词并发执行，共享同一缓存上下文
  - route     对任务执行策略路由（fast / deep / auto），输出决策 JSON
  - classify  只对任务描述做 fast / deep 分类
  - cost      按价格表计算给定 Token 用量的成本
  - cache     查看或清理上下文缓存清单（list / prune）
  - version   显示版本信息

配置从 YAML 文件与 TOKENGATE_ 前缀的环境变量加载；metrics.listen_addr 非空
（或传入 --metrics-addr）时 call、batch 与 route 在运行期间暴露 /metrics。Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
