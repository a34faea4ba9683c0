package server

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// ServerListener tcp/kcp 监听器的共同入口
type ServerListener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// protoListener 把协议差异收敛到 accept 闭包里
type protoListener struct {
	addr   net.Addr
	accept func() (net.Conn, error)
	close  func() error
}

func (l *protoListener) Accept() (net.Conn, error) { return l.accept() }
func (l *protoListener) Close() error              { return l.close() }
func (l *protoListener) Addr() net.Addr            { return l.addr }

func newListener(proto, addr string) (ServerListener, error) {
	switch proto {
	case "", "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &protoListener{
			addr:  ln.Addr(),
			close: ln.Close,
			accept: func() (net.Conn, error) {
				conn, err := ln.Accept()
				if err != nil {
					return nil, err
				}
				// 禁用 Nagle 算法以减少延迟
				if tcpConn, ok := conn.(*net.TCPConn); ok {
					tcpConn.SetNoDelay(true)
				}
				return conn, nil
			},
		}, nil
	case "kcp":
		ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return &protoListener{
			addr:  ln.Addr(),
			close: ln.Close,
			accept: func() (net.Conn, error) {
				sess, err := ln.AcceptKCP()
				if err != nil {
					return nil, err
				}
				// 流模式配合长度前缀分帧；快速重传参数偏向低延迟
				sess.SetStreamMode(true)
				sess.SetNoDelay(1, 10, 2, 1)
				return sess, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", proto)
	}
}
