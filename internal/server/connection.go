package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"knifearena/pkg/protocol"
)

const (
	MaxPacketSize = 4096            // 最大消息大小
	readTimeout   = 30 * time.Second // 读取超时
	writeTimeout  = 1 * time.Second  // 写入超时

	// 输入限速：超出的移动/动作指令直接丢弃，不断开连接
	inputRatePerSecond = 60
	inputRateBurst     = 120
)

var ErrSendQueueFull = errors.New("发送队列满")

// Connection 表示一个客户端连接
type Connection struct {
	conn     net.Conn
	server   *GameServer
	playerID int32

	// 发送队列
	sendChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex

	// 输入限速器
	limiter *rate.Limiter

	lastRecvTime atomic.Value
}

// NewConnection 创建新连接
func NewConnection(conn net.Conn, server *GameServer) *Connection {
	c := &Connection{
		conn:     conn,
		server:   server,
		playerID: -1, // -1 表示未分配
		sendChan: make(chan []byte, 256),
		closeCh:  make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(inputRatePerSecond), inputRateBurst),
	}
	c.lastRecvTime.Store(time.Now())
	return c
}

// Handle 处理连接
func (c *Connection) Handle(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	wg.Add(1)
	go c.watchLiveness(ctx, wg)

	// 启动发送循环
	wg.Add(1)
	go c.sendLoop(ctx, wg)

	// 启动接收循环
	wg.Add(1)
	go c.receiveLoop(ctx, wg)

	// 等待上下文取消或连接关闭
	select {
	case <-ctx.Done():
	case <-c.closeCh:
	}

	c.Close()
}

// Close 关闭连接
func (c *Connection) Close() {
	c.closeWithNotify(true)
}

// CloseWithoutNotify 关闭连接但不触发移除玩家逻辑（换连接重连时用）
func (c *Connection) CloseWithoutNotify() {
	c.closeWithNotify(false)
}

func (c *Connection) closeWithNotify(notify bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeCh)

	if c.conn != nil {
		c.conn.Close()
	}

	// 从房间移除玩家
	if notify {
		if playerID := c.getPlayerID(); playerID >= 0 {
			c.server.removePlayer(playerID)
		}
	}

	log.Printf("玩家 %d: 连接已关闭", c.getPlayerID())
}

// Send 发送数据（异步）
func (c *Connection) Send(data []byte) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return fmt.Errorf("连接已关闭")
	}

	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendPacket 序列化并发送一个消息包
func (c *Connection) SendPacket(pkt *protocol.Packet) error {
	data, err := protocol.MarshalPacket(pkt)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// sendLoop 发送循环
func (c *Connection) sendLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return

		case data := <-c.sendChan:
			// 发送数据长度前缀（4 字节）
			length := uint32(len(data))
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := binary.Write(c.conn, binary.BigEndian, length); err != nil {
				log.Printf("玩家 %d: 发送长度失败: %v", c.getPlayerID(), err)
				c.Close()
				return
			}

			// 发送数据体
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(data); err != nil {
				log.Printf("玩家 %d: 发送数据失败: %v", c.getPlayerID(), err)
				c.Close()
				return
			}
		}
	}
}

// receiveLoop 接收循环
func (c *Connection) receiveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		// 读取消息长度（4 字节）
		var length uint32
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := binary.Read(c.conn, binary.BigEndian, &length); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				log.Printf("玩家 %d: 读取超时", c.getPlayerID())
			} else if err != io.EOF {
				log.Printf("玩家 %d: 读取长度失败: %v", c.getPlayerID(), err)
			}
			c.Close()
			return
		}

		// 检查消息大小
		if length > MaxPacketSize {
			log.Printf("玩家 %d: 消息过大 (%d bytes)", c.getPlayerID(), length)
			c.Close()
			return
		}

		if length == 0 {
			continue
		}

		// 读取消息体
		data := make([]byte, length)
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := io.ReadFull(c.conn, data); err != nil {
			log.Printf("玩家 %d: 读取数据失败: %v", c.getPlayerID(), err)
			c.Close()
			return
		}

		c.lastRecvTime.Store(time.Now())
		if err := c.handleMessage(data); err != nil {
			log.Printf("玩家 %d: 处理消息失败: %v", c.getPlayerID(), err)
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(data []byte) error {
	event, err := DecodePacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch event.Kind {
	case EventJoin:
		if c.getPlayerID() >= 0 {
			return fmt.Errorf("玩家已加入")
		}
		return c.server.handleJoin(c, event.Join)

	case EventRejoin:
		return c.server.handleRejoin(c, event.Rejoin)

	case EventReady:
		// 就绪通知暂无额外处理，收到即表示客户端可接收快照

	case EventMove:
		if !c.limiter.Allow() {
			// 超速输入直接丢弃
			return nil
		}
		event.Move.PlayerID = c.getPlayerID()
		c.server.handleMove(event.Move)

	case EventAction:
		if !c.limiter.Allow() {
			return nil
		}
		event.Action.PlayerID = c.getPlayerID()
		c.server.handleAction(event.Action)

	case EventClockProbe:
		// 时钟探测就地应答，不经过房间循环
		pkt, err := protocol.NewClockProbeResponsePacket(event.ClockProbe.Seq, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		return c.SendPacket(pkt)

	default:
		return fmt.Errorf("未知消息类型")
	}

	return nil
}

// String 返回连接的字符串表示
func (c *Connection) String() string {
	if c.getPlayerID() >= 0 {
		return fmt.Sprintf("Connection{%d, %s}", c.getPlayerID(), c.conn.RemoteAddr())
	}
	return fmt.Sprintf("Connection{%s}", c.conn.RemoteAddr())
}

func (c *Connection) getPlayerID() int32 {
	return atomic.LoadInt32(&c.playerID)
}

func (c *Connection) setPlayerID(playerID int32) {
	atomic.StoreInt32(&c.playerID, playerID)
}

const (
	livenessInterval = 5 * time.Second
	livenessTimeout  = 15 * time.Second
)

// watchLiveness 周期检查最近收包时间，长时间沉默的连接直接关掉
func (c *Connection) watchLiveness(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			lastRecv, _ := c.lastRecvTime.Load().(time.Time)
			if !lastRecv.IsZero() && time.Since(lastRecv) > livenessTimeout {
				log.Printf("玩家 %d: 心跳超时", c.getPlayerID())
				c.Close()
				return
			}
		}
	}
}
