package protocol

import "math"

// 位置字段的增量阈值：量化到 2 位小数后，任何真实变化都不小于 0.01，
// 所以 0.005 的阈值只滤掉浮点噪声，不会丢失变化。
// 生命值与布尔标志按相等比较。
const positionDeltaThreshold = 0.005

// FullDelta 将完整状态打包为整包增量（full=true，所有字段在线）
func FullDelta(e EntityState) *EntityDelta {
	e = QuantizeEntity(e)
	return &EntityDelta{
		ID:       e.ID,
		Full:     true,
		X:        f64ptr(e.X),
		Z:        f64ptr(e.Z),
		TargetX:  f64ptr(e.TargetX),
		TargetZ:  f64ptr(e.TargetZ),
		IsMoving: boolptr(e.IsMoving),
		Health:   i32ptr(e.Health),
		Alive:    boolptr(e.Alive),
	}
}

// ComputeEntityDelta 逐字段比较当前状态与上一次已知状态，
// 只携带超过阈值的字段。previous 为 nil 时返回整包；
// 没有任何字段变化时返回 nil，调用方可以完全省略这次传输。
func ComputeEntityDelta(current EntityState, previous *EntityState) *EntityDelta {
	if previous == nil {
		return FullDelta(current)
	}

	cur := QuantizeEntity(current)
	prev := QuantizeEntity(*previous)

	delta := &EntityDelta{ID: cur.ID}
	changed := false

	if math.Abs(cur.X-prev.X) > positionDeltaThreshold {
		delta.X = f64ptr(cur.X)
		changed = true
	}
	if math.Abs(cur.Z-prev.Z) > positionDeltaThreshold {
		delta.Z = f64ptr(cur.Z)
		changed = true
	}
	if math.Abs(cur.TargetX-prev.TargetX) > positionDeltaThreshold {
		delta.TargetX = f64ptr(cur.TargetX)
		changed = true
	}
	if math.Abs(cur.TargetZ-prev.TargetZ) > positionDeltaThreshold {
		delta.TargetZ = f64ptr(cur.TargetZ)
		changed = true
	}
	if cur.IsMoving != prev.IsMoving {
		delta.IsMoving = boolptr(cur.IsMoving)
		changed = true
	}
	if cur.Health != prev.Health {
		delta.Health = i32ptr(cur.Health)
		changed = true
	}
	if cur.Alive != prev.Alive {
		delta.Alive = boolptr(cur.Alive)
		changed = true
	}

	if !changed {
		return nil
	}
	return delta
}

// ApplyEntityDelta 将增量合并到上一次完整状态之上，返回新的完整状态。
// 纯函数且幂等：同一增量从同一起点应用两次结果相同。
// delta 为整包或没有上一次状态时，增量本身就是新的完整状态。
func ApplyEntityDelta(delta *EntityDelta, previous *EntityState) EntityState {
	var out EntityState
	if !delta.Full && previous != nil {
		out = *previous
	}
	out.ID = delta.ID

	if delta.X != nil {
		out.X = *delta.X
	}
	if delta.Z != nil {
		out.Z = *delta.Z
	}
	if delta.TargetX != nil {
		out.TargetX = *delta.TargetX
	}
	if delta.TargetZ != nil {
		out.TargetZ = *delta.TargetZ
	}
	if delta.IsMoving != nil {
		out.IsMoving = *delta.IsMoving
	}
	if delta.Health != nil {
		out.Health = *delta.Health
	}
	if delta.Alive != nil {
		out.Alive = *delta.Alive
	}
	return out
}

func f64ptr(v float64) *float64 { return &v }
func i32ptr(v int32) *int32     { return &v }
func boolptr(v bool) *bool      { return &v }
