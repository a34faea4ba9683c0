package protocol

import (
	"encoding/json"
	"fmt"
)

// ========== 序列化与反序列化 ==========

// MarshalPacket 将 Packet 对象转换为字节切片
func MarshalPacket(pkt *Packet) ([]byte, error) {
	return json.Marshal(pkt)
}

// UnmarshalPacket 将字节切片转换为 Packet 对象
func UnmarshalPacket(data []byte) (*Packet, error) {
	pkt := &Packet{}
	if err := json.Unmarshal(data, pkt); err != nil {
		return nil, err
	}
	if pkt.Type == "" {
		return nil, fmt.Errorf("消息缺少类型字段")
	}
	return pkt, nil
}

func newPacket(t MessageType, body interface{}) (*Packet, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Packet{Type: t, Data: data}, nil
}

func parseInto(pkt *Packet, want MessageType, out interface{}) error {
	if pkt.Type != want {
		return fmt.Errorf("消息类型不匹配: 期望 %s, 实际 %s", want, pkt.Type)
	}
	return json.Unmarshal(pkt.Data, out)
}

// ========== 辅助构造方法 ==========

// NewJoinPacket 构造加入请求消息包
func NewJoinPacket(playerName, roomID string) (*Packet, error) {
	return newPacket(MsgJoin, &JoinRequest{PlayerName: playerName, RoomID: roomID})
}

// NewRejoinPacket 构造重连请求消息包
func NewRejoinPacket(sessionToken string) (*Packet, error) {
	return newPacket(MsgRejoin, &RejoinRequest{SessionToken: sessionToken})
}

// NewReadyPacket 构造就绪通知消息包
func NewReadyPacket(roomID string) (*Packet, error) {
	return newPacket(MsgReady, &ReadyNotice{RoomID: roomID})
}

// NewMovePacket 构造移动指令消息包（位置字段先量化）
func NewMovePacket(cmd *MoveCmd) (*Packet, error) {
	q := *cmd
	q.TargetX = Quantize(q.TargetX)
	q.TargetZ = Quantize(q.TargetZ)
	return newPacket(MsgMove, &q)
}

// NewActionPacket 构造动作指令消息包（位置字段先量化）
func NewActionPacket(cmd *ActionCmd) (*Packet, error) {
	q := *cmd
	q.TargetX = Quantize(q.TargetX)
	q.TargetZ = Quantize(q.TargetZ)
	return newPacket(MsgAction, &q)
}

// NewClockProbePacket 构造时钟探测消息包
func NewClockProbePacket(seq int32, clientSendTime int64) (*Packet, error) {
	return newPacket(MsgClockProbe, &ClockProbe{Seq: seq, ClientSendTime: clientSendTime})
}

// NewJoinAckPacket 构造加入确认消息包
func NewJoinAckPacket(ack *JoinAck) (*Packet, error) {
	return newPacket(MsgJoinAck, ack)
}

// NewStatePacket 构造状态快照消息包
func NewStatePacket(snapshot *StateSnapshot) (*Packet, error) {
	return newPacket(MsgState, snapshot)
}

// NewMoveAckPacket 构造移动确认消息包
func NewMoveAckPacket(ack *MoveAck) (*Packet, error) {
	return newPacket(MsgMoveAck, ack)
}

// NewSpawnPacket 构造实体出生消息包
func NewSpawnPacket(entity EntityState) (*Packet, error) {
	return newPacket(MsgSpawn, &SpawnEvent{Entity: entity})
}

// NewDestroyPacket 构造实体销毁消息包
func NewDestroyPacket(id int32) (*Packet, error) {
	return newPacket(MsgDestroy, &DestroyEvent{ID: id})
}

// NewHealthPacket 构造生命值更新消息包
func NewHealthPacket(id, health int32, alive bool) (*Packet, error) {
	return newPacket(MsgHealth, &HealthUpdate{ID: id, Health: health, Alive: alive})
}

// NewClockProbeResponsePacket 构造时钟探测响应消息包
func NewClockProbeResponsePacket(seq int32, serverTime int64) (*Packet, error) {
	return newPacket(MsgClockProbeResponse, &ClockProbeResponse{Seq: seq, ServerTime: serverTime})
}

// NewRoomInfoPacket 构造房间信息消息包
func NewRoomInfoPacket(roomID string, playerCount int32) (*Packet, error) {
	return newPacket(MsgRoomInfo, &RoomInfo{RoomID: roomID, PlayerCount: playerCount})
}

// NewErrorPacket 构造错误通知消息包
func NewErrorPacket(code, message string) (*Packet, error) {
	return newPacket(MsgError, &ErrorNotice{Code: code, Message: message})
}

// ========== 消息解析辅助 ==========

// ParseJoin 从 Packet 中解析 JoinRequest
func ParseJoin(pkt *Packet) (*JoinRequest, error) {
	req := &JoinRequest{}
	if err := parseInto(pkt, MsgJoin, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseRejoin 从 Packet 中解析 RejoinRequest
func ParseRejoin(pkt *Packet) (*RejoinRequest, error) {
	req := &RejoinRequest{}
	if err := parseInto(pkt, MsgRejoin, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseReady 从 Packet 中解析 ReadyNotice
func ParseReady(pkt *Packet) (*ReadyNotice, error) {
	notice := &ReadyNotice{}
	if err := parseInto(pkt, MsgReady, notice); err != nil {
		return nil, err
	}
	return notice, nil
}

// ParseMove 从 Packet 中解析 MoveCmd
func ParseMove(pkt *Packet) (*MoveCmd, error) {
	cmd := &MoveCmd{}
	if err := parseInto(pkt, MsgMove, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ParseAction 从 Packet 中解析 ActionCmd
func ParseAction(pkt *Packet) (*ActionCmd, error) {
	cmd := &ActionCmd{}
	if err := parseInto(pkt, MsgAction, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ParseClockProbe 从 Packet 中解析 ClockProbe
func ParseClockProbe(pkt *Packet) (*ClockProbe, error) {
	probe := &ClockProbe{}
	if err := parseInto(pkt, MsgClockProbe, probe); err != nil {
		return nil, err
	}
	return probe, nil
}

// ParseJoinAck 从 Packet 中解析 JoinAck
func ParseJoinAck(pkt *Packet) (*JoinAck, error) {
	ack := &JoinAck{}
	if err := parseInto(pkt, MsgJoinAck, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// ParseState 从 Packet 中解析 StateSnapshot
func ParseState(pkt *Packet) (*StateSnapshot, error) {
	snapshot := &StateSnapshot{}
	if err := parseInto(pkt, MsgState, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ParseMoveAck 从 Packet 中解析 MoveAck
func ParseMoveAck(pkt *Packet) (*MoveAck, error) {
	ack := &MoveAck{}
	if err := parseInto(pkt, MsgMoveAck, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// ParseSpawn 从 Packet 中解析 SpawnEvent
func ParseSpawn(pkt *Packet) (*SpawnEvent, error) {
	event := &SpawnEvent{}
	if err := parseInto(pkt, MsgSpawn, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ParseDestroy 从 Packet 中解析 DestroyEvent
func ParseDestroy(pkt *Packet) (*DestroyEvent, error) {
	event := &DestroyEvent{}
	if err := parseInto(pkt, MsgDestroy, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ParseHealth 从 Packet 中解析 HealthUpdate
func ParseHealth(pkt *Packet) (*HealthUpdate, error) {
	update := &HealthUpdate{}
	if err := parseInto(pkt, MsgHealth, update); err != nil {
		return nil, err
	}
	return update, nil
}

// ParseClockProbeResponse 从 Packet 中解析 ClockProbeResponse
func ParseClockProbeResponse(pkt *Packet) (*ClockProbeResponse, error) {
	resp := &ClockProbeResponse{}
	if err := parseInto(pkt, MsgClockProbeResponse, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ParseRoomInfo 从 Packet 中解析 RoomInfo
func ParseRoomInfo(pkt *Packet) (*RoomInfo, error) {
	info := &RoomInfo{}
	if err := parseInto(pkt, MsgRoomInfo, info); err != nil {
		return nil, err
	}
	return info, nil
}

// ParseError 从 Packet 中解析 ErrorNotice
func ParseError(pkt *Packet) (*ErrorNotice, error) {
	notice := &ErrorNotice{}
	if err := parseInto(pkt, MsgError, notice); err != nil {
		return nil, err
	}
	return notice, nil
}
