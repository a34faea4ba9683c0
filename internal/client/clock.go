package client

import "math"

// 时钟同步的平滑系数：偏移走得慢，RTT 稍快，抖动与偏移同速
const (
	offsetAlpha = 0.1
	rttAlpha    = 0.2
	jitterAlpha = 0.1
)

// pendingProbe 等待响应的探测记录
type pendingProbe struct {
	seq    int32
	sentAt int64
}

// ClockSync 时钟同步器：通过周期探测估计服务器时间偏移与往返延迟。
// 偏移、RTT、抖动都做指数滑动平均，首个样本直接赋值。
type ClockSync struct {
	clock Clock

	offsetMs float64 // 服务器时间 - 本地时间
	rttMs    float64
	jitterMs float64
	synced   bool

	nextSeq     int32
	pending     map[int32]pendingProbe
	lastProbeAt int64
}

// NewClockSync 创建时钟同步器
func NewClockSync(clock Clock) *ClockSync {
	return &ClockSync{
		clock:   clock,
		pending: make(map[int32]pendingProbe),
	}
}

// MaybeProbe 若到达探测间隔则分配一次新探测并返回其序号与发送时间，
// 否则返回 false。由会话的帧更新驱动，没有独立定时器。
func (cs *ClockSync) MaybeProbe() (seq int32, sendTime int64, ok bool) {
	now := cs.clock.NowMs()
	if cs.lastProbeAt != 0 && now-cs.lastProbeAt < ProbeIntervalMs {
		return 0, 0, false
	}
	cs.lastProbeAt = now
	cs.gc(now)

	cs.nextSeq++
	cs.RecordProbeSent(cs.nextSeq, now)
	return cs.nextSeq, now, true
}

// RecordProbeSent 记录一次已发送的探测
func (cs *ClockSync) RecordProbeSent(seq int32, sendTime int64) {
	cs.pending[seq] = pendingProbe{seq: seq, sentAt: sendTime}
}

// HandleProbeResponse 处理探测响应。
// 找不到对应探测（过期或重复响应）时静默丢弃，不算错误。
func (cs *ClockSync) HandleProbeResponse(seq int32, serverTime int64) {
	probe, ok := cs.pending[seq]
	if !ok {
		return
	}
	delete(cs.pending, seq)

	now := cs.clock.NowMs()
	measuredRTT := float64(now - probe.sentAt)
	if measuredRTT < 0 {
		return
	}

	// 假设上下行对称：服务器当前时间 ≈ 响应里的时间 + 半个 RTT
	serverNow := float64(serverTime) + measuredRTT/2
	measuredOffset := serverNow - float64(now)

	if !cs.synced {
		cs.offsetMs = measuredOffset
		cs.rttMs = measuredRTT
		cs.synced = true
		return
	}

	cs.jitterMs = cs.jitterMs*(1-jitterAlpha) + math.Abs(measuredRTT-cs.rttMs)*jitterAlpha
	cs.rttMs = cs.rttMs*(1-rttAlpha) + measuredRTT*rttAlpha
	cs.offsetMs = cs.offsetMs*(1-offsetAlpha) + measuredOffset*offsetAlpha
}

// gc 清理长时间没有响应的探测记录
func (cs *ClockSync) gc(now int64) {
	for seq, probe := range cs.pending {
		if now-probe.sentAt > ProbeStaleMs {
			delete(cs.pending, seq)
		}
	}
}

// ServerTimeMs 当前服务器时间估计
func (cs *ClockSync) ServerTimeMs() int64 {
	return cs.clock.NowMs() + int64(math.Round(cs.offsetMs))
}

// RTTMs 平滑后的往返延迟
func (cs *ClockSync) RTTMs() float64 {
	return cs.rttMs
}

// JitterMs 平滑后的 RTT 抖动
func (cs *ClockSync) JitterMs() float64 {
	return cs.jitterMs
}

// OffsetMs 平滑后的时间偏移
func (cs *ClockSync) OffsetMs() float64 {
	return cs.offsetMs
}

// Synced 是否已经有过至少一个有效样本
func (cs *ClockSync) Synced() bool {
	return cs.synced
}

// PendingProbes 等待响应的探测数量（观测用）
func (cs *ClockSync) PendingProbes() int {
	return len(cs.pending)
}
