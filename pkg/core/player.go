package core

// Player 玩家（纯逻辑，不包含渲染）
type Player struct {
	ID       int32   // 玩家ID
	Pos      Vec2    // 当前位置
	Target   Vec2    // 移动目标（点击目的地）
	IsMoving bool    // 是否在移动
	Heading  float64 // 朝向（弧度，沿 X 轴正方向为 0）
	Health   int32   // 生命值
	Alive    bool    // 是否存活

	Speed float64 // 移动速度（单位/秒）
}

// NewPlayer 创建新玩家
func NewPlayer(id int32, pos Vec2) *Player {
	return &Player{
		ID:     id,
		Pos:    pos,
		Target: pos,
		Health: DefaultHealth,
		Alive:  true,
		Speed:  PlayerSpeed,
	}
}

// Step 以固定时间步把玩家朝目标推进一步
func (p *Player) Step(dtMs int64) {
	if !p.Alive {
		p.IsMoving = false
		return
	}
	p.Pos, p.IsMoving = MoveStep(p.Pos, p.Target, p.Speed, dtMs)
}
