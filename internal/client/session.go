package client

import (
	"errors"
	"fmt"
	"log"

	"knifearena/pkg/core"
	"knifearena/pkg/protocol"
)

// SessionConfig 会话配置
type SessionConfig struct {
	PlayerName string
	RoomID     string
	ArenaBound float64
	Reconcile  ReconcileConfig
}

// DefaultSessionConfig 默认会话配置
func DefaultSessionConfig(playerName string) SessionConfig {
	return SessionConfig{
		PlayerName: playerName,
		ArenaBound: core.ArenaBound,
		Reconcile:  DefaultReconcileConfig(),
	}
}

// SessionStats 会话统计快照（只读，无副作用）
type SessionStats struct {
	Connected        bool
	ReconnectAttempt int

	MessagesIn  int64
	MessagesOut int64
	BytesIn     int64
	BytesOut    int64

	RTTMs    float64
	JitterMs float64
	OffsetMs float64

	InterpolationDelayMs int64
	SnapshotJitterMs     float64

	PendingInputs int
	AckCursor     int32
	Corrections   CorrectionStats
}

type handlerFunc func(pkt *protocol.Packet) error

// Session 网络会话管理器：持有传输连接，把入站消息分发给
// 时钟同步、对账引擎与插值缓冲，维护增量缓存、心跳与重连。
// 所有状态变更都发生在 Update 调用里，外部不加锁。
type Session struct {
	cfg   SessionConfig
	clock Clock
	dial  Dialer

	transport Transport

	playerID     int32
	roomID       string
	sessionToken string

	clockSync  *ClockSync
	inputs     *InputBuffer
	reconciler *Reconciler
	arrivals   *ArrivalStats
	smoothers  map[int32]*RemoteSmoother
	deltaCache map[int32]protocol.EntityState

	localPlayer   *core.Player
	remotePlayers map[int32]*core.Player

	handlers map[protocol.MessageType]handlerFunc

	onStateUpdate    func(snapshot *protocol.StateSnapshot)
	onMoveAck        func(ack protocol.MoveAck)
	onConnectionLost func(reason string)
	onReconnected    func()

	connected        bool
	closed           bool
	lostSignaled     bool
	rejoining        bool
	reconnectAttempt int
	nextReconnectAt  int64
	lastStateAt      int64
	lastUpdateAt     int64
	lastDelayCalcAt  int64
	currentDelayMs   int64

	msgsIn, msgsOut   int64
	bytesIn, bytesOut int64
}

// NewSession 创建会话。dial 在连接与每次重连时被调用。
func NewSession(cfg SessionConfig, clock Clock, dial Dialer) *Session {
	s := &Session{
		cfg:            cfg,
		clock:          clock,
		dial:           dial,
		clockSync:      NewClockSync(clock),
		inputs:         NewInputBuffer(clock, InputBufferSize),
		reconciler:     NewReconciler(cfg.Reconcile, clock),
		arrivals:       NewArrivalStats(),
		smoothers:      make(map[int32]*RemoteSmoother),
		deltaCache:     make(map[int32]protocol.EntityState),
		remotePlayers:  make(map[int32]*core.Player),
		handlers:       make(map[protocol.MessageType]handlerFunc),
		currentDelayMs: DefaultInterpolationDelayMs,
	}

	// 入站分发表：注册时校验，未注册的类型在分发时丢弃
	mustRegister := func(t protocol.MessageType, h handlerFunc) {
		if err := s.RegisterHandler(t, h); err != nil {
			panic(err)
		}
	}
	mustRegister(protocol.MsgJoinAck, s.handleJoinAck)
	mustRegister(protocol.MsgState, s.handleState)
	mustRegister(protocol.MsgMoveAck, s.handleMoveAck)
	mustRegister(protocol.MsgSpawn, s.handleSpawn)
	mustRegister(protocol.MsgDestroy, s.handleDestroy)
	mustRegister(protocol.MsgHealth, s.handleHealth)
	mustRegister(protocol.MsgClockProbeResponse, s.handleClockProbeResponse)
	mustRegister(protocol.MsgRoomInfo, s.handleRoomInfo)
	mustRegister(protocol.MsgError, s.handleError)

	return s
}

// RegisterHandler 注册入站消息处理器。类型为空、处理器为 nil
// 或重复注册都在注册时报错，而不是留到运行时。
func (s *Session) RegisterHandler(t protocol.MessageType, h handlerFunc) error {
	if t == "" {
		return errors.New("消息类型为空")
	}
	if h == nil {
		return fmt.Errorf("消息 %s 的处理器为 nil", t)
	}
	if _, exists := s.handlers[t]; exists {
		return fmt.Errorf("消息 %s 重复注册", t)
	}
	s.handlers[t] = h
	return nil
}

// ========== 对外回调 ==========

// OnStateUpdate 注册状态更新回调（渲染层使用）
func (s *Session) OnStateUpdate(fn func(*protocol.StateSnapshot)) { s.onStateUpdate = fn }

// OnMoveAck 注册移动确认回调
func (s *Session) OnMoveAck(fn func(protocol.MoveAck)) { s.onMoveAck = fn }

// OnConnectionLost 注册连接丢失回调
func (s *Session) OnConnectionLost(fn func(reason string)) { s.onConnectionLost = fn }

// OnReconnected 注册重连成功回调
func (s *Session) OnReconnected(fn func()) { s.onReconnected = fn }

// ========== 连接管理 ==========

// Connect 建立连接并发送加入请求。
// 加入确认在之后的 Update 中到达，Ready 返回 true 表示已入场。
func (s *Session) Connect() error {
	if s.closed {
		return errors.New("会话已关闭")
	}

	transport, err := s.dial()
	if err != nil {
		return err
	}
	s.transport = transport
	s.connected = true
	s.lostSignaled = false

	pkt, err := protocol.NewJoinPacket(s.cfg.PlayerName, s.cfg.RoomID)
	if err != nil {
		return err
	}
	return s.send(pkt)
}

// Ready 是否已收到加入确认
func (s *Session) Ready() bool {
	return s.playerID != 0
}

// Connected 传输连接是否存活
func (s *Session) Connected() bool {
	return s.connected
}

// Close 关闭会话：停止传输与其收发协程。
// 之后的 Update 全部为空操作，不会再触发任何回调。
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.connected = false
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
}

// ========== 帧更新 ==========

// Update 每帧调用：排空入站消息、驱动定时行为、推进预测与插值。
// 这是唯一变更会话状态的入口。
func (s *Session) Update() {
	if s.closed {
		return
	}

	now := s.clock.NowMs()
	dtMs := int64(0)
	if s.lastUpdateAt != 0 {
		dtMs = now - s.lastUpdateAt
	}
	s.lastUpdateAt = now

	s.drainInbound()
	s.tickTimers(now)
	s.advanceLocal(dtMs)
	s.advanceRemotes()
}

// drainInbound 排空传输层的入站队列
func (s *Session) drainInbound() {
	if s.transport == nil {
		return
	}
	for {
		select {
		case data := <-s.transport.Recv():
			s.msgsIn++
			s.bytesIn += int64(len(data))
			s.handleRaw(data)

		case err := <-s.transport.Errors():
			s.handleTransportError(err)
			return

		default:
			return
		}
	}
}

func (s *Session) handleRaw(data []byte) {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		log.Printf("反序列化失败: %v", err)
		return
	}

	handler, ok := s.handlers[pkt.Type]
	if !ok {
		// 未知消息类型直接丢弃
		return
	}
	if err := handler(pkt); err != nil {
		log.Printf("处理消息 %s 失败: %v", pkt.Type, err)
	}
}

// tickTimers 驱动探测、心跳与重连（都挂在帧更新上，没有独立定时器）
func (s *Session) tickTimers(now int64) {
	if s.connected && s.Ready() {
		if seq, sendTime, ok := s.clockSync.MaybeProbe(); ok {
			pkt, err := protocol.NewClockProbePacket(seq, sendTime)
			if err == nil {
				_ = s.send(pkt)
			}
		}

		// 心跳：太久没有状态消息就向上层报告，自己不断开
		if s.lastStateAt != 0 && now-s.lastStateAt > HeartbeatTimeoutMs && !s.lostSignaled {
			s.lostSignaled = true
			log.Printf("心跳超时: %d ms 没有收到状态", now-s.lastStateAt)
			if s.onConnectionLost != nil {
				s.onConnectionLost("heartbeat")
			}
		}
	}

	if !s.connected && s.nextReconnectAt != 0 && now >= s.nextReconnectAt {
		s.attemptReconnect(now)
	}
}

// advanceLocal 推进本地预测与平滑纠正
func (s *Session) advanceLocal(dtMs int64) {
	if s.localPlayer == nil {
		return
	}
	if s.reconciler.Correcting() {
		s.reconciler.Tick(s.localPlayer)
		return
	}
	s.localPlayer.Step(dtMs)
}

// advanceRemotes 推进远端实体插值，并按观测抖动调整插值延迟
func (s *Session) advanceRemotes() {
	now := s.clock.NowMs()
	if now-s.lastDelayCalcAt >= DelayRecomputeIntervalMs {
		s.lastDelayCalcAt = now
		s.currentDelayMs = AdaptiveDelayMs(s.arrivals.JitterMs())
		for _, sm := range s.smoothers {
			sm.SetInterpolationDelay(s.currentDelayMs)
		}
	}

	serverTime := s.clockSync.ServerTimeMs()
	for id, sm := range s.smoothers {
		sm.UpdateInterpolation(serverTime, s.remotePlayers[id])
	}
}

// ========== 出站 ==========

// SendMove 发送移动意图：分配序号、盖时间戳、本地立即预测。
// 返回分配的序号。
func (s *Session) SendMove(targetX, targetZ float64) (int32, error) {
	if !s.connected || !s.Ready() {
		return 0, errors.New("未连接")
	}

	qx := protocol.Quantize(targetX)
	qz := protocol.Quantize(targetZ)
	seq := s.inputs.Add(qx, qz, 0)

	cmd := &protocol.MoveCmd{
		RoomID:     s.roomID,
		TargetX:    qx,
		TargetZ:    qz,
		ActionID:   seq,
		Seq:        seq,
		ClientTime: s.clockSync.ServerTimeMs(),
	}
	if err := protocol.ValidateMove(cmd, s.cfg.ArenaBound); err != nil {
		return 0, err
	}

	// 本地预测：立即把目标设为点击点
	if s.localPlayer != nil {
		s.localPlayer.Target = core.Vec2{X: qx, Z: qz}
		s.localPlayer.IsMoving = true
	}

	pkt, err := protocol.NewMovePacket(cmd)
	if err != nil {
		return 0, err
	}
	return seq, s.send(pkt)
}

// SendAction 发送动作意图（掷刀等），盖上估算的服务器时间与本地发送时间
func (s *Session) SendAction(targetX, targetZ float64, actionID int32) error {
	if !s.connected || !s.Ready() {
		return errors.New("未连接")
	}

	cmd := &protocol.ActionCmd{
		RoomID:          s.roomID,
		TargetX:         protocol.Quantize(targetX),
		TargetZ:         protocol.Quantize(targetZ),
		ActionID:        actionID,
		ClientTimestamp: s.clockSync.ServerTimeMs(),
		ClientSendTime:  s.clock.NowMs(),
	}
	if err := protocol.ValidateAction(cmd, s.cfg.ArenaBound); err != nil {
		return err
	}

	pkt, err := protocol.NewActionPacket(cmd)
	if err != nil {
		return err
	}
	return s.send(pkt)
}

func (s *Session) send(pkt *protocol.Packet) error {
	if s.transport == nil {
		return errors.New("传输未建立")
	}
	data, err := protocol.MarshalPacket(pkt)
	if err != nil {
		return err
	}
	if err := s.transport.Send(data); err != nil {
		return err
	}
	s.msgsOut++
	s.bytesOut += int64(len(data))
	return nil
}

// ========== 入站处理 ==========

func (s *Session) handleJoinAck(pkt *protocol.Packet) error {
	ack, err := protocol.ParseJoinAck(pkt)
	if err != nil {
		return err
	}

	wasRejoin := s.rejoining

	s.playerID = ack.PlayerID
	s.roomID = ack.RoomID
	s.sessionToken = ack.SessionToken

	// 入场即重置：输入缓冲、增量缓存与插值缓冲全部从头开始
	s.inputs.Clear()
	s.reconciler.Reset()
	s.deltaCache = make(map[int32]protocol.EntityState)
	s.smoothers = make(map[int32]*RemoteSmoother)
	s.remotePlayers = make(map[int32]*core.Player)

	for _, e := range ack.Entities {
		s.deltaCache[e.ID] = protocol.QuantizeEntity(e)
		s.applyEntityState(e, ack.ServerTime)
	}

	s.connected = true
	s.rejoining = false
	s.lostSignaled = false
	s.reconnectAttempt = 0
	s.nextReconnectAt = 0
	s.lastStateAt = s.clock.NowMs()

	log.Printf("玩家 %d 加入房间 %s", s.playerID, s.roomID)

	// 告知服务器可以开始推送快照
	if ready, err := protocol.NewReadyPacket(s.roomID); err == nil {
		_ = s.send(ready)
	}

	if wasRejoin && s.onReconnected != nil {
		s.onReconnected()
	}
	return nil
}

func (s *Session) handleState(pkt *protocol.Packet) error {
	snapshot, err := protocol.ParseState(pkt)
	if err != nil {
		return err
	}

	now := s.clock.NowMs()
	s.arrivals.Record(now)
	s.lastStateAt = now
	s.lostSignaled = false

	// 累积确认先行，重放才能拿到正确的未确认集合
	s.inputs.Acknowledge(snapshot.Ack)

	for i := range snapshot.Entities {
		delta := &snapshot.Entities[i]

		var prev *protocol.EntityState
		if cached, ok := s.deltaCache[delta.ID]; ok && !snapshot.Full {
			prev = &cached
		}
		full := protocol.ApplyEntityDelta(delta, prev)
		s.deltaCache[delta.ID] = full

		s.applyEntityState(full, snapshot.ServerTime)
	}

	for _, id := range snapshot.RemovedIDs {
		delete(s.deltaCache, id)
		delete(s.smoothers, id)
		delete(s.remotePlayers, id)
	}

	if s.onStateUpdate != nil {
		s.onStateUpdate(snapshot)
	}
	return nil
}

// applyEntityState 把一条完整实体状态派发给本地对账或远端插值
func (s *Session) applyEntityState(e protocol.EntityState, serverTime int64) {
	if e.ID == s.playerID {
		if s.localPlayer == nil {
			s.localPlayer = core.NewPlayer(e.ID, core.Vec2{X: e.X, Z: e.Z})
		}
		s.reconciler.Apply(s.localPlayer, e, s.inputs.Unacknowledged())
		return
	}

	player, ok := s.remotePlayers[e.ID]
	if !ok {
		player = core.NewPlayer(e.ID, core.Vec2{X: e.X, Z: e.Z})
		s.remotePlayers[e.ID] = player
		s.smoothers[e.ID] = NewRemoteSmoother()
		s.smoothers[e.ID].SetInterpolationDelay(s.currentDelayMs)
		log.Printf("玩家 %d 加入视野", e.ID)
	}
	player.Health = e.Health
	player.Alive = e.Alive
	s.smoothers[e.ID].AddSnapshot(serverTime,
		core.Vec2{X: e.X, Z: e.Z},
		core.Vec2{X: e.TargetX, Z: e.TargetZ},
		e.IsMoving)
}

func (s *Session) handleMoveAck(pkt *protocol.Packet) error {
	ack, err := protocol.ParseMoveAck(pkt)
	if err != nil {
		return err
	}
	if s.onMoveAck != nil {
		s.onMoveAck(*ack)
	}
	return nil
}

func (s *Session) handleSpawn(pkt *protocol.Packet) error {
	event, err := protocol.ParseSpawn(pkt)
	if err != nil {
		return err
	}
	e := protocol.QuantizeEntity(event.Entity)
	s.deltaCache[e.ID] = e
	s.applyEntityState(e, s.clockSync.ServerTimeMs())
	return nil
}

func (s *Session) handleDestroy(pkt *protocol.Packet) error {
	event, err := protocol.ParseDestroy(pkt)
	if err != nil {
		return err
	}
	delete(s.deltaCache, event.ID)
	delete(s.smoothers, event.ID)
	delete(s.remotePlayers, event.ID)
	return nil
}

func (s *Session) handleHealth(pkt *protocol.Packet) error {
	update, err := protocol.ParseHealth(pkt)
	if err != nil {
		return err
	}

	// 重复的生命值更新天然幂等
	if cached, ok := s.deltaCache[update.ID]; ok {
		cached.Health = update.Health
		cached.Alive = update.Alive
		s.deltaCache[update.ID] = cached
	}
	if update.ID == s.playerID && s.localPlayer != nil {
		s.localPlayer.Health = update.Health
		s.localPlayer.Alive = update.Alive
	} else if player, ok := s.remotePlayers[update.ID]; ok {
		player.Health = update.Health
		player.Alive = update.Alive
	}
	return nil
}

func (s *Session) handleClockProbeResponse(pkt *protocol.Packet) error {
	resp, err := protocol.ParseClockProbeResponse(pkt)
	if err != nil {
		return err
	}
	s.clockSync.HandleProbeResponse(resp.Seq, resp.ServerTime)
	return nil
}

func (s *Session) handleRoomInfo(pkt *protocol.Packet) error {
	info, err := protocol.ParseRoomInfo(pkt)
	if err != nil {
		return err
	}
	s.roomID = info.RoomID
	return nil
}

func (s *Session) handleError(pkt *protocol.Packet) error {
	notice, err := protocol.ParseError(pkt)
	if err != nil {
		return err
	}
	log.Printf("服务器错误: %s (%s)", notice.Message, notice.Code)
	return nil
}

// ========== 断线与重连 ==========

func (s *Session) handleTransportError(err error) {
	if s.closed || !s.connected {
		return
	}
	log.Printf("连接断开: %v", err)

	s.connected = false
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}

	if s.onConnectionLost != nil {
		s.onConnectionLost("transport")
	}
	s.scheduleReconnect(s.clock.NowMs())
}

// scheduleReconnect 线性退避：第 n 次尝试等 n 个步长
func (s *Session) scheduleReconnect(now int64) {
	if s.reconnectAttempt >= MaxReconnectAttempts {
		log.Printf("重连失败次数达到上限 (%d)，放弃", MaxReconnectAttempts)
		s.nextReconnectAt = 0
		return
	}
	s.reconnectAttempt++
	s.nextReconnectAt = now + int64(s.reconnectAttempt)*ReconnectBackoffStepMs
	log.Printf("第 %d 次重连将在 %d ms 后发起", s.reconnectAttempt, s.nextReconnectAt-now)
}

func (s *Session) attemptReconnect(now int64) {
	s.nextReconnectAt = 0

	transport, err := s.dial()
	if err != nil {
		log.Printf("重连失败: %v", err)
		s.scheduleReconnect(now)
		return
	}

	s.transport = transport
	s.connected = true
	s.lostSignaled = false
	s.rejoining = true

	var pkt *protocol.Packet
	if s.sessionToken != "" {
		pkt, err = protocol.NewRejoinPacket(s.sessionToken)
	} else {
		pkt, err = protocol.NewJoinPacket(s.cfg.PlayerName, s.cfg.RoomID)
	}
	if err == nil {
		err = s.send(pkt)
	}
	if err != nil {
		log.Printf("发送重连请求失败: %v", err)
		s.handleTransportError(err)
	}
}

// ========== 观测 ==========

// PlayerID 本地玩家 ID
func (s *Session) PlayerID() int32 {
	return s.playerID
}

// LocalPlayer 本地（预测中的）玩家，入场前为 nil
func (s *Session) LocalPlayer() *core.Player {
	return s.localPlayer
}

// RemotePlayers 远端玩家表（调用方只读）
func (s *Session) RemotePlayers() map[int32]*core.Player {
	return s.remotePlayers
}

// Stats 聚合统计快照
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Connected:            s.connected,
		ReconnectAttempt:     s.reconnectAttempt,
		MessagesIn:           s.msgsIn,
		MessagesOut:          s.msgsOut,
		BytesIn:              s.bytesIn,
		BytesOut:             s.bytesOut,
		RTTMs:                s.clockSync.RTTMs(),
		JitterMs:             s.clockSync.JitterMs(),
		OffsetMs:             s.clockSync.OffsetMs(),
		InterpolationDelayMs: s.currentDelayMs,
		SnapshotJitterMs:     s.arrivals.JitterMs(),
		PendingInputs:        s.inputs.Len(),
		AckCursor:            s.inputs.AckCursor(),
		Corrections:          s.reconciler.Stats(),
	}
}
