package core

// 玩家配置
const (
	PlayerSpeed   = 5.0   // 移动速度（单位/秒）
	DefaultHealth = 100   // 初始生命值
	ArenaBound    = 100.0 // 坐标绝对值上限（超出视为非法）
)

// 模拟步长
const (
	InputStepMs  int64 = 50 // 每个输入对应的固定时间步（毫秒），预测重放与服务器共用
	ServerTPS          = 20 // 服务器每秒快照次数
	ServerTickMs int64 = 1000 / ServerTPS
)
