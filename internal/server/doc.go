/*
包 server 管理 tokengate 的指标端点监听器。

Manager 封装 net/http.Server：Start 非阻塞地绑定地址并在后台提供服务，
Addr 返回实际监听地址（":0" 时为系统分配的端口），Shutdown 在配置的超时内
排空连接。服务异常通过 Errors() 通道上报，由调用方决定是否退出。
*/
package server
