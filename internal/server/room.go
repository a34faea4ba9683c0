package server

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"knifearena/pkg/core"
	"knifearena/pkg/protocol"
)

const (
	MaxPlayers   = 8
	TickDuration = time.Second / core.ServerTPS

	// 每 30 个 tick 发一次整包关键帧，其余 tick 只发增量
	keyframeInterval = 30
)

// Room 竞技场房间：单协程事件循环，所有状态变更都在 Run 里发生
type Room struct {
	ctx    context.Context
	cancel context.CancelFunc

	id   string
	tick int64

	players     map[int32]*core.Player
	connections map[int32]*Connection
	ackCursors  map[int32]int32

	// 每个接收方一份增量缓存：上一次发给他的完整实体状态
	deltaCaches map[int32]map[int32]protocol.EntityState

	nextPlayerID int32

	joinCh   chan joinRequest
	rejoinCh chan rejoinRequest
	moveCh   chan *MoveEvent
	actionCh chan *ActionEvent
	leaveCh  chan int32
}

type joinRequest struct {
	conn   *Connection
	req    *JoinEvent
	respCh chan error
}

type rejoinRequest struct {
	conn   *Connection
	req    *RejoinEvent
	respCh chan error
}

func NewRoom(parent context.Context) *Room {
	ctx, cancel := context.WithCancel(parent)

	return &Room{
		ctx:          ctx,
		cancel:       cancel,
		id:           uuid.NewString(),
		players:      make(map[int32]*core.Player),
		connections:  make(map[int32]*Connection),
		ackCursors:   make(map[int32]int32),
		deltaCaches:  make(map[int32]map[int32]protocol.EntityState),
		nextPlayerID: 1,
		joinCh:       make(chan joinRequest),
		rejoinCh:     make(chan rejoinRequest),
		moveCh:       make(chan *MoveEvent, 256),
		actionCh:     make(chan *ActionEvent, 256),
		leaveCh:      make(chan int32, 256),
	}
}

func (r *Room) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	log.Printf("房间 %s 循环启动: %d TPS", r.id, core.ServerTPS)

	for {
		select {
		case <-r.ctx.Done():
			r.closeAllConnections()
			log.Printf("房间 %s 循环停止", r.id)
			return

		case req := <-r.joinCh:
			r.handleJoin(req)

		case req := <-r.rejoinCh:
			r.handleRejoin(req)

		case ev := <-r.moveCh:
			r.handleMove(ev)

		case ev := <-r.actionCh:
			r.handleAction(ev)

		case playerID := <-r.leaveCh:
			r.handleLeave(playerID)

		case <-ticker.C:
			r.step()
		}
	}
}

func (r *Room) Shutdown() {
	r.cancel()
}

// ========== 外部入口（从连接协程投递到房间循环） ==========

func (r *Room) Join(conn *Connection, req *JoinEvent) error {
	respCh := make(chan error, 1)
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case r.joinCh <- joinRequest{conn: conn, req: req, respCh: respCh}:
	}

	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case err := <-respCh:
		return err
	}
}

func (r *Room) Rejoin(conn *Connection, req *RejoinEvent) error {
	respCh := make(chan error, 1)
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case r.rejoinCh <- rejoinRequest{conn: conn, req: req, respCh: respCh}:
	}

	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case err := <-respCh:
		return err
	}
}

func (r *Room) EnqueueMove(ev *MoveEvent) {
	select {
	case <-r.ctx.Done():
	case r.moveCh <- ev:
	}
}

func (r *Room) EnqueueAction(ev *ActionEvent) {
	select {
	case <-r.ctx.Done():
	case r.actionCh <- ev:
	}
}

func (r *Room) Leave(playerID int32) {
	select {
	case <-r.ctx.Done():
	case r.leaveCh <- playerID:
	}
}

// ========== 房间循环内部 ==========

func (r *Room) handleJoin(req joinRequest) {
	if len(r.connections) >= MaxPlayers {
		req.respCh <- fmt.Errorf("房间已满 (%d/%d)", len(r.connections), MaxPlayers)
		return
	}

	playerID := r.nextPlayerID
	r.nextPlayerID++

	player := core.NewPlayer(playerID, spawnPosition(playerID))
	r.players[playerID] = player

	req.conn.setPlayerID(playerID)
	r.connections[playerID] = req.conn
	r.ackCursors[playerID] = 0
	r.deltaCaches[playerID] = make(map[int32]protocol.EntityState)

	if err := r.sendJoinAck(req.conn, playerID); err != nil {
		r.dropPlayer(playerID)
		req.conn.setPlayerID(-1)
		req.respCh <- err
		return
	}

	// 向其他玩家广播出生与房间信息
	r.broadcastSpawn(playerID)
	r.broadcastRoomInfo()
	log.Printf("玩家 %d 加入房间 %s，出生点: (%.1f, %.1f)", playerID, r.id, player.Pos.X, player.Pos.Z)

	req.respCh <- nil
}

func (r *Room) handleRejoin(req rejoinRequest) {
	playerID, roomID, err := VerifySessionToken(req.req.SessionToken)
	if err != nil {
		req.respCh <- fmt.Errorf("会话令牌无效: %w", err)
		return
	}
	if roomID != r.id {
		req.respCh <- fmt.Errorf("会话属于其他房间")
		return
	}

	// 旧连接还挂着就先关掉（不触发移除玩家）
	if old, ok := r.connections[playerID]; ok && old != req.conn {
		old.CloseWithoutNotify()
	}

	// 玩家对象可能已被移除（掉线超时），按原 ID 重建
	player, ok := r.players[playerID]
	if !ok {
		player = core.NewPlayer(playerID, spawnPosition(playerID))
		r.players[playerID] = player
	}

	req.conn.setPlayerID(playerID)
	r.connections[playerID] = req.conn
	// 重连后增量缓存从零开始，第一帧必然是整包
	r.deltaCaches[playerID] = make(map[int32]protocol.EntityState)

	if err := r.sendJoinAck(req.conn, playerID); err != nil {
		req.respCh <- err
		return
	}

	log.Printf("玩家 %d 重连到房间 %s", playerID, r.id)
	req.respCh <- nil
}

func (r *Room) sendJoinAck(conn *Connection, playerID int32) error {
	entities := make([]protocol.EntityState, 0, len(r.players))
	for _, p := range r.players {
		entities = append(entities, r.entityState(p))
	}

	token, err := GenerateSessionToken(playerID, r.id)
	if err != nil {
		return fmt.Errorf("生成会话令牌失败: %w", err)
	}

	pkt, err := protocol.NewJoinAckPacket(&protocol.JoinAck{
		PlayerID:     playerID,
		RoomID:       r.id,
		SessionToken: token,
		ServerTime:   time.Now().UnixMilli(),
		Entities:     entities,
	})
	if err != nil {
		return err
	}
	return conn.SendPacket(pkt)
}

func (r *Room) handleMove(ev *MoveEvent) {
	player, ok := r.players[ev.PlayerID]
	if !ok || !player.Alive {
		return
	}

	// 过期或重复的序号直接忽略（累积确认，单调不减）
	if ev.Cmd.Seq <= r.ackCursors[ev.PlayerID] {
		return
	}
	r.ackCursors[ev.PlayerID] = ev.Cmd.Seq

	player.Target = core.Vec2{
		X: protocol.Quantize(ev.Cmd.TargetX),
		Z: protocol.Quantize(ev.Cmd.TargetZ),
	}
	player.IsMoving = true

	// 回显权威位置
	if conn, ok := r.connections[ev.PlayerID]; ok {
		pkt, err := protocol.NewMoveAckPacket(&protocol.MoveAck{
			ActionID: ev.Cmd.ActionID,
			X:        protocol.Quantize(player.Pos.X),
			Z:        protocol.Quantize(player.Pos.Z),
			TargetX:  player.Target.X,
			TargetZ:  player.Target.Z,
		})
		if err == nil {
			_ = conn.SendPacket(pkt)
		}
	}
}

func (r *Room) handleAction(ev *ActionEvent) {
	player, ok := r.players[ev.PlayerID]
	if !ok || !player.Alive {
		return
	}

	// 动作结算（伤害判定等）不在此层；只确认收到
	if conn, ok := r.connections[ev.PlayerID]; ok {
		pkt, err := protocol.NewMoveAckPacket(&protocol.MoveAck{
			ActionID: ev.Cmd.ActionID,
			X:        protocol.Quantize(player.Pos.X),
			Z:        protocol.Quantize(player.Pos.Z),
			TargetX:  player.Target.X,
			TargetZ:  player.Target.Z,
		})
		if err == nil {
			_ = conn.SendPacket(pkt)
		}
	}
}

func (r *Room) handleLeave(playerID int32) {
	if _, exists := r.connections[playerID]; !exists {
		return
	}
	r.dropPlayer(playerID)
	log.Printf("玩家 %d 离开房间 %s，当前玩家数: %d", playerID, r.id, len(r.connections))

	// 广播销毁
	pkt, err := protocol.NewDestroyPacket(playerID)
	if err != nil {
		return
	}
	for _, conn := range r.connections {
		_ = conn.SendPacket(pkt)
	}
	// 同步清掉各接收方缓存里的该实体，避免下个快照再报一次移除
	for _, cache := range r.deltaCaches {
		delete(cache, playerID)
	}
	r.broadcastRoomInfo()
}

func (r *Room) broadcastRoomInfo() {
	pkt, err := protocol.NewRoomInfoPacket(r.id, int32(len(r.connections)))
	if err != nil {
		return
	}
	for _, conn := range r.connections {
		_ = conn.SendPacket(pkt)
	}
}

func (r *Room) dropPlayer(playerID int32) {
	delete(r.players, playerID)
	delete(r.connections, playerID)
	delete(r.ackCursors, playerID)
	delete(r.deltaCaches, playerID)
}

// step 每 tick 推进模拟并广播快照
func (r *Room) step() {
	r.tick++

	for _, player := range r.players {
		player.Step(core.ServerTickMs)
	}

	r.broadcastState()
}

// broadcastState 给每个连接发送针对他的增量快照。
// 整包关键帧按固定节奏发送，保证新观察者与丢包后的恢复。
func (r *Room) broadcastState() {
	keyframe := r.tick%keyframeInterval == 0
	now := time.Now().UnixMilli()

	for playerID, conn := range r.connections {
		cache := r.deltaCaches[playerID]

		entities := make([]protocol.EntityDelta, 0, len(r.players))
		for _, p := range r.players {
			current := r.entityState(p)

			var prev *protocol.EntityState
			if !keyframe {
				if cached, ok := cache[p.ID]; ok {
					prev = &cached
				}
			}

			delta := protocol.ComputeEntityDelta(current, prev)
			if delta != nil {
				entities = append(entities, *delta)
			}
			cache[p.ID] = protocol.QuantizeEntity(current)
		}

		// 找出缓存里已不存在的实体
		var removed []int32
		for id := range cache {
			if _, ok := r.players[id]; !ok {
				removed = append(removed, id)
				delete(cache, id)
			}
		}

		// 无变化的增量帧整体省略；关键帧始终发送（兼作心跳）
		if !keyframe && len(entities) == 0 && len(removed) == 0 {
			continue
		}

		pkt, err := protocol.NewStatePacket(&protocol.StateSnapshot{
			ServerTick: r.tick,
			ServerTime: now,
			Ack:        r.ackCursors[playerID],
			Delta:      !keyframe,
			Full:       keyframe,
			Entities:   entities,
			RemovedIDs: removed,
		})
		if err != nil {
			log.Printf("序列化状态失败: %v", err)
			continue
		}
		if err := conn.SendPacket(pkt); err != nil {
			log.Printf("发送状态到玩家 %d 失败: %v", playerID, err)
		}
	}
}

func (r *Room) broadcastSpawn(playerID int32) {
	player, ok := r.players[playerID]
	if !ok {
		return
	}
	pkt, err := protocol.NewSpawnPacket(r.entityState(player))
	if err != nil {
		return
	}
	for id, conn := range r.connections {
		if id == playerID {
			continue
		}
		_ = conn.SendPacket(pkt)
	}
}

func (r *Room) entityState(p *core.Player) protocol.EntityState {
	return protocol.QuantizeEntity(protocol.EntityState{
		ID:       p.ID,
		X:        p.Pos.X,
		Z:        p.Pos.Z,
		TargetX:  p.Target.X,
		TargetZ:  p.Target.Z,
		IsMoving: p.IsMoving,
		Health:   p.Health,
		Alive:    p.Alive,
	})
}

func (r *Room) closeAllConnections() {
	for _, conn := range r.connections {
		conn.CloseWithoutNotify()
	}
}

// ID 房间标识
func (r *Room) ID() string {
	return r.id
}

// spawnPosition 根据玩家 ID 在半径 20 的圆周上取出生点
func spawnPosition(playerID int32) core.Vec2 {
	const spawnRadius = 20.0
	angle := float64(playerID%MaxPlayers) * (2 * math.Pi / MaxPlayers)
	return core.Vec2{
		X: protocol.Quantize(spawnRadius * math.Cos(angle)),
		Z: protocol.Quantize(spawnRadius * math.Sin(angle)),
	}
}
