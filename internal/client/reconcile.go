package client

import (
	"knifearena/pkg/core"
	"knifearena/pkg/protocol"
)

// ReconcileConfig 对账配置。
// 两个阈值来自长期调参的经验值，按配置保留，不要改语义。
type ReconcileConfig struct {
	SmoothThreshold      float64             // 低于此误差不做纠正
	TeleportThreshold    float64             // 高于此误差直接瞬移，不做掩饰
	CorrectionDurationMs int64               // 平滑纠正时长
	Ease                 func(float64) float64 // 纠正用缓动曲线
	Speed                float64             // 重放时的移动速度
	InputStepMs          int64               // 每个输入的固定时间步
}

// DefaultReconcileConfig 默认对账配置
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		SmoothThreshold:      0.1,
		TeleportThreshold:    10.0,
		CorrectionDurationMs: 100,
		Ease:                 core.EaseOutCubic,
		Speed:                core.PlayerSpeed,
		InputStepMs:          core.InputStepMs,
	}
}

// CorrectionStats 纠正统计（观测用）
type CorrectionStats struct {
	Count     int64   // 平滑纠正次数
	Total     float64 // 累计误差
	Max       float64 // 单次最大误差
	Teleports int64   // 瞬移次数（大误差）
}

// Reconciler 对账引擎：收到权威快照后重放未确认输入，
// 并把可见的位置误差用一段短缓动掩盖掉。
// 状态机：空闲 → 纠正中 → 空闲。
type Reconciler struct {
	cfg   ReconcileConfig
	clock Clock

	correcting bool
	startedAt  int64
	from       core.Vec2
	to         core.Vec2

	stats CorrectionStats
}

// NewReconciler 创建对账引擎
func NewReconciler(cfg ReconcileConfig, clock Clock) *Reconciler {
	if cfg.Ease == nil {
		cfg.Ease = core.EaseOutCubic
	}
	return &Reconciler{cfg: cfg, clock: clock}
}

// Apply 用权威状态覆盖本地玩家，再按序号升序重放未确认输入。
// 重放使用与模拟相同的 core.MoveStep，保证重放结果与预测应得结果一致。
func (r *Reconciler) Apply(player *core.Player, auth protocol.EntityState, pending []BufferedInput) {
	predicted := player.Pos

	// 1. 权威覆盖
	player.Pos = core.Vec2{X: auth.X, Z: auth.Z}
	player.Target = core.Vec2{X: auth.TargetX, Z: auth.TargetZ}
	player.Health = auth.Health
	player.Alive = auth.Alive
	player.IsMoving = auth.IsMoving

	// 2. 确定性重放
	for _, input := range pending {
		player.Target = core.Vec2{X: input.TargetX, Z: input.TargetZ}
		player.Pos, player.IsMoving = core.MoveStep(player.Pos, player.Target, r.cfg.Speed, r.cfg.InputStepMs)
	}
	replayed := player.Pos

	// 3. 误差分级
	errMag := core.Distance(predicted, replayed)
	switch {
	case errMag < r.cfg.SmoothThreshold:
		// 误差不可见，直接采用重放结果
		r.correcting = false

	case errMag < r.cfg.TeleportThreshold:
		// 把渲染位置拉回预测点，再缓动到重放结果
		r.correcting = true
		r.startedAt = r.clock.NowMs()
		r.from = predicted
		r.to = replayed
		player.Pos = predicted

		r.stats.Count++
		r.stats.Total += errMag
		if errMag > r.stats.Max {
			r.stats.Max = errMag
		}

	default:
		// 大误差不值得掩饰，立即瞬移并计数
		r.correcting = false
		r.stats.Teleports++
	}
}

// Tick 每帧推进平滑纠正。到达时长后吸附到目标并回到空闲。
func (r *Reconciler) Tick(player *core.Player) {
	if !r.correcting {
		return
	}

	elapsed := r.clock.NowMs() - r.startedAt
	if elapsed >= r.cfg.CorrectionDurationMs {
		player.Pos = r.to
		r.correcting = false
		return
	}

	t := r.cfg.Ease(float64(elapsed) / float64(r.cfg.CorrectionDurationMs))
	player.Pos = core.Lerp(r.from, r.to, t)
}

// Correcting 是否处于纠正中
func (r *Reconciler) Correcting() bool {
	return r.correcting
}

// Stats 纠正统计
func (r *Reconciler) Stats() CorrectionStats {
	return r.stats
}

// Reset 回到空闲（重连后使用）
func (r *Reconciler) Reset() {
	r.correcting = false
}
