package client

import (
	"math"

	"knifearena/pkg/core"
)

// stateSnapshot 远端玩家状态快照（客户端插值缓冲）
type stateSnapshot struct {
	timestamp int64
	pos       core.Vec2
	target    core.Vec2
	isMoving  bool
}

// RemoteSmoother 远端玩家插值与航位推测。
// 缓冲按服务器时间戳升序，渲染时间落后于服务器时间一个插值延迟，
// 正常情况下总能找到一对快照做线性插值。
type RemoteSmoother struct {
	buffer               []stateSnapshot
	renderTimestamp      int64
	lastVelocityX        float64
	lastVelocityZ        float64
	interpolationDelayMs int64 // 当前插值延迟（可动态调整）
}

// NewRemoteSmoother 创建插值缓冲器
func NewRemoteSmoother() *RemoteSmoother {
	return &RemoteSmoother{
		buffer:               make([]stateSnapshot, 0, InterpolationBufferSize),
		interpolationDelayMs: DefaultInterpolationDelayMs,
	}
}

// SetInterpolationDelay 设置插值延迟（毫秒），自动夹在允许范围内
func (s *RemoteSmoother) SetInterpolationDelay(delayMs int64) {
	if delayMs < MinInterpolationDelayMs {
		delayMs = MinInterpolationDelayMs
	}
	if delayMs > MaxInterpolationDelayMs {
		delayMs = MaxInterpolationDelayMs
	}
	s.interpolationDelayMs = delayMs
}

// GetInterpolationDelay 获取当前插值延迟（毫秒）
func (s *RemoteSmoother) GetInterpolationDelay() int64 {
	return s.interpolationDelayMs
}

// AddSnapshot 添加状态快照到缓冲区
func (s *RemoteSmoother) AddSnapshot(timestamp int64, pos, target core.Vec2, isMoving bool) {
	// 乱序或重复时间戳直接丢弃，缓冲必须保持升序
	if len(s.buffer) > 0 && timestamp <= s.buffer[len(s.buffer)-1].timestamp {
		return
	}

	// 计算速度（用于航位推测）
	if len(s.buffer) > 0 {
		last := s.buffer[len(s.buffer)-1]
		dt := float64(timestamp - last.timestamp)
		if dt > 0 {
			s.lastVelocityX = (pos.X - last.pos.X) / dt
			s.lastVelocityZ = (pos.Z - last.pos.Z) / dt
		}
	}

	s.buffer = append(s.buffer, stateSnapshot{
		timestamp: timestamp,
		pos:       pos,
		target:    target,
		isMoving:  isMoving,
	})

	// 限制缓冲区大小
	if len(s.buffer) > InterpolationBufferSize {
		s.buffer = s.buffer[1:]
	}
}

// UpdateInterpolation 更新插值位置（远端玩家每帧调用）
func (s *RemoteSmoother) UpdateInterpolation(serverTimeMs int64, player *core.Player) {
	if player == nil || len(s.buffer) == 0 {
		return
	}

	// 渲染时间 = 服务器时间 - 插值延迟
	renderTime := serverTimeMs - s.interpolationDelayMs
	s.renderTimestamp = renderTime

	// 在缓冲区中找到 renderTime 两侧的快照
	var prev, next *stateSnapshot
	for i := 0; i < len(s.buffer)-1; i++ {
		if s.buffer[i].timestamp <= renderTime && s.buffer[i+1].timestamp >= renderTime {
			prev = &s.buffer[i]
			next = &s.buffer[i+1]
			break
		}
	}

	switch {
	case prev != nil && next != nil:
		// 正常插值
		totalTime := float64(next.timestamp - prev.timestamp)
		if totalTime > 0 {
			alpha := core.Clamp01(float64(renderTime-prev.timestamp) / totalTime)
			player.Pos = core.Lerp(prev.pos, next.pos, alpha)
			player.Target = next.target
			player.IsMoving = next.isMoving
			s.updateHeading(player, next.pos.Sub(prev.pos))
		}

	case renderTime > s.buffer[len(s.buffer)-1].timestamp && len(s.buffer) >= 2:
		// 缓冲不足：基于最后速度做有上限的航位推测
		last := s.buffer[len(s.buffer)-1]
		ahead := renderTime - last.timestamp
		if ahead > DeadReckoningMaxMs {
			ahead = DeadReckoningMaxMs
			player.IsMoving = false
		} else {
			player.IsMoving = last.isMoving
		}
		player.Pos = core.Vec2{
			X: last.pos.X + s.lastVelocityX*float64(ahead),
			Z: last.pos.Z + s.lastVelocityZ*float64(ahead),
		}
		s.updateHeading(player, core.Vec2{X: s.lastVelocityX, Z: s.lastVelocityZ})

	default:
		// 只有一个快照或渲染时间早于缓冲：停在最早的快照上，
		// 等渲染时间追上缓冲后再开始插值，避免向前跳变
		oldest := s.buffer[0]
		player.Pos = oldest.pos
		player.IsMoving = false
	}

	s.cleanupOldSnapshots(renderTime)
}

// updateHeading 由方向向量推导朝向，幅度太小时保持原朝向
func (s *RemoteSmoother) updateHeading(player *core.Player, dir core.Vec2) {
	if dir.Length() < 1e-4 {
		return
	}
	player.Heading = math.Atan2(dir.Z, dir.X)
}

func (s *RemoteSmoother) cleanupOldSnapshots(renderTime int64) {
	// 找到最后一个 <= renderTime 的快照索引
	cutoff := -1
	for i := 0; i < len(s.buffer); i++ {
		if s.buffer[i].timestamp <= renderTime {
			cutoff = i
		} else {
			break
		}
	}

	// 保留 cutoff 及之后的快照（cutoff 用于插值的 prev）
	if cutoff > 0 {
		s.buffer = s.buffer[cutoff:]
	}
}

// BufferLen 当前缓冲的快照数量（观测用）
func (s *RemoteSmoother) BufferLen() int {
	return len(s.buffer)
}
