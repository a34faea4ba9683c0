package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

const (
	MaxPacketSize = 4096
	dialTimeout   = 5 * time.Second
)

var ErrSendQueueFull = errors.New("发送队列满")

// Transport 有序的消息通道：收发都是完整消息，保证按发送顺序到达
type Transport interface {
	Send(data []byte) error
	Recv() <-chan []byte
	Errors() <-chan error
	Close()
}

// Dialer 建立一条新传输连接。重连时由会话重复调用。
type Dialer func() (Transport, error)

// NewDialer 按协议创建拨号器
func NewDialer(serverAddr, proto string) Dialer {
	return func() (Transport, error) {
		conn, err := dial(serverAddr, proto)
		if err != nil {
			return nil, fmt.Errorf("连接服务器失败: %w", err)
		}
		return newFramedConn(conn), nil
	}
}

func dial(serverAddr, proto string) (net.Conn, error) {
	switch proto {
	case "", "tcp":
		conn, err := net.DialTimeout("tcp", serverAddr, dialTimeout)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			// 禁用 Nagle 算法以减少延迟
			tcpConn.SetNoDelay(true)
		}
		return conn, nil
	case "kcp":
		conn, err := kcp.DialWithOptions(serverAddr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		// 与服务端监听器保持一致的流模式与快速重传参数
		conn.SetStreamMode(true)
		conn.SetNoDelay(1, 10, 2, 1)
		return conn, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", proto)
	}
}

// framedConn 长度前缀分帧的连接：4 字节大端长度 + 消息体
type framedConn struct {
	conn net.Conn

	recvCh chan []byte
	sendCh chan []byte
	errCh  chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
}

func newFramedConn(conn net.Conn) *framedConn {
	ctx, cancel := context.WithCancel(context.Background())
	fc := &framedConn{
		conn:   conn,
		recvCh: make(chan []byte, 256),
		sendCh: make(chan []byte, 256),
		errCh:  make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	fc.wg.Add(2)
	go fc.receiveLoop()
	go fc.sendLoop()

	return fc
}

// Send 发送数据（异步）
func (fc *framedConn) Send(data []byte) error {
	fc.closeMu.Lock()
	defer fc.closeMu.Unlock()
	if fc.closed {
		return errors.New("连接已关闭")
	}

	select {
	case fc.sendCh <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (fc *framedConn) Recv() <-chan []byte {
	return fc.recvCh
}

func (fc *framedConn) Errors() <-chan error {
	return fc.errCh
}

// Close 关闭连接并等待收发循环结束
func (fc *framedConn) Close() {
	fc.closeMu.Lock()
	if fc.closed {
		fc.closeMu.Unlock()
		return
	}
	fc.closed = true
	fc.closeMu.Unlock()

	fc.cancel()
	fc.conn.Close()
	fc.wg.Wait()
}

func (fc *framedConn) fail(err error) {
	select {
	case fc.errCh <- err:
	default:
	}
}

// receiveLoop 接收循环
func (fc *framedConn) receiveLoop() {
	defer fc.wg.Done()

	for {
		select {
		case <-fc.ctx.Done():
			return
		default:
		}

		// 读取消息长度（4 字节）
		var length uint32
		if err := binary.Read(fc.conn, binary.BigEndian, &length); err != nil {
			if !errors.Is(err, io.EOF) {
				fc.fail(fmt.Errorf("读取长度失败: %w", err))
			} else {
				fc.fail(io.EOF)
			}
			return
		}

		// 检查消息大小
		if length > MaxPacketSize {
			fc.fail(fmt.Errorf("消息过大 (%d bytes)", length))
			return
		}

		if length == 0 {
			continue
		}

		// 读取消息体
		data := make([]byte, length)
		if _, err := io.ReadFull(fc.conn, data); err != nil {
			fc.fail(fmt.Errorf("读取数据失败: %w", err))
			return
		}

		select {
		case fc.recvCh <- data:
		default:
			// 队列满，丢弃旧数据不如丢弃新数据安全，直接丢弃本条
		}
	}
}

// sendLoop 发送循环
func (fc *framedConn) sendLoop() {
	defer fc.wg.Done()

	for {
		select {
		case <-fc.ctx.Done():
			return

		case data := <-fc.sendCh:
			// 发送长度前缀（4 字节）
			length := uint32(len(data))
			if err := binary.Write(fc.conn, binary.BigEndian, length); err != nil {
				fc.fail(fmt.Errorf("发送长度失败: %w", err))
				return
			}

			// 发送数据体
			if _, err := fc.conn.Write(data); err != nil {
				fc.fail(fmt.Errorf("发送数据失败: %w", err))
				return
			}
		}
	}
}
