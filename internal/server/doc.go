/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。内置 SIGINT/SIGTERM 信号处理，
适用于生产环境的优雅停机需求。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时与
    优雅关闭超时。

API 服务与 Prometheus 指标服务各持有一个 Manager 实例，
互不影响地启动与关闭。
*/
package server
