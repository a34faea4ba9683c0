package core

// MoveStep 以固定时间步将位置朝目标推进一步，返回新位置与是否仍在移动。
// 客户端预测、确认后重放与服务器模拟共用此函数，三方对同一输入序列
// 必须得到相同结果，因此这里不允许任何随机性或全局状态。
func MoveStep(pos, target Vec2, speed float64, dtMs int64) (Vec2, bool) {
	if dtMs <= 0 || speed <= 0 {
		return pos, false
	}

	dist := Distance(pos, target)
	if dist == 0 {
		return pos, false
	}

	step := speed * float64(dtMs) / 1000.0
	if step >= dist {
		// 本步即可到达目标
		return target, false
	}

	return Lerp(pos, target, step/dist), true
}
