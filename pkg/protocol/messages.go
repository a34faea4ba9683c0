package protocol

import "encoding/json"

// MessageType 消息类型
type MessageType string

const (
	// 客户端 → 服务器
	MsgJoin       MessageType = "join"
	MsgRejoin     MessageType = "rejoin"
	MsgReady      MessageType = "ready"
	MsgMove       MessageType = "move"
	MsgAction     MessageType = "action"
	MsgClockProbe MessageType = "clock_probe"

	// 服务器 → 客户端
	MsgJoinAck            MessageType = "join_ack"
	MsgState              MessageType = "state"
	MsgMoveAck            MessageType = "move_ack"
	MsgSpawn              MessageType = "spawn"
	MsgDestroy            MessageType = "destroy"
	MsgHealth             MessageType = "health"
	MsgClockProbeResponse MessageType = "clock_probe_response"
	MsgRoomInfo           MessageType = "room_info"
	MsgError              MessageType = "error"
)

// Packet 统一消息信封：type 区分种类，data 为具体消息体
type Packet struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ========== 客户端消息 ==========

// JoinRequest 加入请求
type JoinRequest struct {
	PlayerName string `json:"playerName"`
	RoomID     string `json:"roomId,omitempty"`
}

// RejoinRequest 重连请求，携带首次加入时下发的会话令牌
type RejoinRequest struct {
	SessionToken string `json:"sessionToken"`
}

// ReadyNotice 客户端就绪通知
type ReadyNotice struct {
	RoomID string `json:"roomId"`
}

// MoveCmd 移动指令
type MoveCmd struct {
	RoomID     string  `json:"roomId"`
	TargetX    float64 `json:"targetX"`
	TargetZ    float64 `json:"targetZ"`
	ActionID   int32   `json:"actionId"`
	Seq        int32   `json:"seq"`
	ClientTime int64   `json:"clientTime"`
}

// ActionCmd 动作指令（掷刀等）
type ActionCmd struct {
	RoomID          string  `json:"roomId"`
	TargetX         float64 `json:"targetX"`
	TargetZ         float64 `json:"targetZ"`
	ActionID        int32   `json:"actionId"`
	ClientTimestamp int64   `json:"clientTimestamp"` // 估算的服务器时间
	ClientSendTime  int64   `json:"clientSendTime"`  // 本地发送时间
}

// ClockProbe 时钟探测
type ClockProbe struct {
	Seq            int32 `json:"seq"`
	ClientSendTime int64 `json:"clientSendTime"`
}

// ========== 服务器消息 ==========

// JoinAck 加入/重连确认
type JoinAck struct {
	PlayerID     int32         `json:"playerId"`
	RoomID       string        `json:"roomId"`
	SessionToken string        `json:"sessionToken"`
	ServerTime   int64         `json:"serverTime"`
	Entities     []EntityState `json:"entities,omitempty"`
}

// EntityState 实体完整状态
type EntityState struct {
	ID       int32   `json:"id"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	TargetX  float64 `json:"targetX"`
	TargetZ  float64 `json:"targetZ"`
	IsMoving bool    `json:"isMoving"`
	Health   int32   `json:"health"`
	Alive    bool    `json:"alive"`
}

// EntityDelta 实体增量状态：指针字段表示"该字段有变化"，
// 未变化的字段在线上完全省略
type EntityDelta struct {
	ID       int32    `json:"id"`
	Full     bool     `json:"full,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Z        *float64 `json:"z,omitempty"`
	TargetX  *float64 `json:"targetX,omitempty"`
	TargetZ  *float64 `json:"targetZ,omitempty"`
	IsMoving *bool    `json:"isMoving,omitempty"`
	Health   *int32   `json:"health,omitempty"`
	Alive    *bool    `json:"alive,omitempty"`
}

// StateSnapshot 状态快照（整包或增量）
type StateSnapshot struct {
	ServerTick int64         `json:"serverTick"`
	ServerTime int64         `json:"serverTime"`
	Ack        int32         `json:"ack"` // 已处理的最大输入序号（累积确认）
	Delta      bool          `json:"delta"`
	Full       bool          `json:"full"`
	Entities   []EntityDelta `json:"entities,omitempty"`
	RemovedIDs []int32       `json:"removedIds,omitempty"`
}

// MoveAck 移动确认，回显权威位置
type MoveAck struct {
	ActionID int32   `json:"actionId"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	TargetX  float64 `json:"targetX"`
	TargetZ  float64 `json:"targetZ"`
}

// SpawnEvent 实体出生
type SpawnEvent struct {
	Entity EntityState `json:"entity"`
}

// DestroyEvent 实体销毁
type DestroyEvent struct {
	ID int32 `json:"id"`
}

// HealthUpdate 生命值更新
type HealthUpdate struct {
	ID     int32 `json:"id"`
	Health int32 `json:"health"`
	Alive  bool  `json:"alive"`
}

// ClockProbeResponse 时钟探测响应
type ClockProbeResponse struct {
	Seq        int32 `json:"seq"`
	ServerTime int64 `json:"serverTime"`
}

// RoomInfo 房间元信息
type RoomInfo struct {
	RoomID      string `json:"roomId"`
	PlayerCount int32  `json:"playerCount"`
}

// ErrorNotice 服务器错误通知
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
