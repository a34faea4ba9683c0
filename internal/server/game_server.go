package server

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// GameServer 游戏服务器
type GameServer struct {
	room *Room

	// 网络
	listener ServerListener
	addr     string
	proto    string

	// 控制
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewGameServer 创建新的游戏服务器
func NewGameServer(addr, proto string) *GameServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &GameServer{
		addr:     addr,                // 监听地址
		proto:    proto,               // 监听协议
		ctx:      ctx,                 // 上下文
		cancel:   cancel,              // 取消函数
		shutdown: make(chan struct{}), // 关闭信号
	}
}

// Start 启动服务器
func (s *GameServer) Start() error {
	log.Printf("启动游戏服务器: %s", s.addr)

	listener, err := newListener(s.proto, s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener

	log.Printf("服务器监听中: %s (%s)", s.addr, s.proto)

	s.room = NewRoom(s.ctx)

	// 启动房间循环
	s.wg.Add(1)
	go s.room.Run(&s.wg)

	// 启动连接接受循环
	s.wg.Add(1)
	go s.acceptLoop()

	// 等待关闭信号
	<-s.shutdown

	log.Println("服务器正在关闭...")
	return nil
}

// Shutdown 优雅关闭服务器
func (s *GameServer) Shutdown() {
	log.Println("正在关闭服务器...")

	// 取消上下文
	s.cancel()

	if s.room != nil {
		s.room.Shutdown()
	}

	// 关闭监听器
	if s.listener != nil {
		s.listener.Close()
	}

	// 关闭 shutdown 通道
	close(s.shutdown)

	// 等待所有 goroutine 结束
	s.wg.Wait()

	log.Println("服务器已关闭")
}

// acceptLoop 接受客户端连接
func (s *GameServer) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("停止接受新连接")
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("接受连接失败: %v", err)
				continue
			}
		}

		log.Printf("新连接来自: %s", conn.RemoteAddr())

		// 创建连接对象
		connection := NewConnection(conn, s)

		// 启动连接处理
		s.wg.Add(1)
		go connection.Handle(s.ctx, &s.wg)
	}
}

// handleJoin 处理加入请求
func (s *GameServer) handleJoin(conn *Connection, ev *JoinEvent) error {
	if s.room == nil {
		return fmt.Errorf("房间未初始化")
	}
	return s.room.Join(conn, ev)
}

// handleRejoin 处理重连请求
func (s *GameServer) handleRejoin(conn *Connection, ev *RejoinEvent) error {
	if s.room == nil {
		return fmt.Errorf("房间未初始化")
	}
	return s.room.Rejoin(conn, ev)
}

// handleMove 处理移动指令
func (s *GameServer) handleMove(ev *MoveEvent) {
	if s.room == nil {
		return
	}
	s.room.EnqueueMove(ev)
}

// handleAction 处理动作指令
func (s *GameServer) handleAction(ev *ActionEvent) {
	if s.room == nil {
		return
	}
	s.room.EnqueueAction(ev)
}

// removePlayer 移除玩家
func (s *GameServer) removePlayer(playerID int32) {
	if s.room == nil {
		return
	}
	s.room.Leave(playerID)
}
