package client

// ===== 网络插值与预测配置（客户端专用）=====
const (
	// 插值缓冲延迟（毫秒）：远端玩家渲染时间滞后于服务器时间
	// 值越大越平滑，但延迟感越强；通常 100ms 是较好的折中
	DefaultInterpolationDelayMs int64 = 100

	// 插值延迟的动态调整范围（毫秒）
	MinInterpolationDelayMs int64 = 50
	MaxInterpolationDelayMs int64 = 300

	// 自适应延迟：delay = base + jitter * cushion，最多每秒重算一次
	JitterCushionFactor            = 2.0
	DelayRecomputeIntervalMs int64 = 1000

	// 插值缓冲区大小：每个远端实体存储最近 N 个状态快照
	InterpolationBufferSize = 32

	// 航位推测最大时长（毫秒）：超过此时间未收到新状态则停在最后位置
	DeadReckoningMaxMs int64 = 100

	// 输入缓冲区大小：存储未确认的输入用于重放
	InputBufferSize = 100

	// 时钟探测间隔与探测记录的过期时间（毫秒）
	ProbeIntervalMs int64 = 2000
	ProbeStaleMs    int64 = 5000

	// 心跳：超过此时间没有收到状态消息则判定连接丢失（毫秒）
	HeartbeatTimeoutMs int64 = 15000

	// 重连：线性退避步长与最大尝试次数
	ReconnectBackoffStepMs int64 = 1000
	MaxReconnectAttempts         = 5

	// 到达间隔统计窗口大小
	ArrivalWindowSize = 64
)
