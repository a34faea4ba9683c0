package server

import "knifearena/pkg/protocol"

type EventKind int

const (
	EventUnknown EventKind = iota
	EventJoin
	EventRejoin
	EventReady
	EventMove
	EventAction
	EventClockProbe
)

type JoinEvent struct {
	PlayerName string
	RoomID     string // 空字符串表示自动分配到默认房间
}

type RejoinEvent struct {
	SessionToken string
}

type MoveEvent struct {
	PlayerID int32
	Cmd      *protocol.MoveCmd
}

type ActionEvent struct {
	PlayerID int32
	Cmd      *protocol.ActionCmd
}

type ClockProbeEvent struct {
	Seq            int32
	ClientSendTime int64
}

type ServerEvent struct {
	Kind       EventKind
	Join       *JoinEvent
	Rejoin     *RejoinEvent
	Move       *MoveEvent
	Action     *ActionEvent
	ClockProbe *ClockProbeEvent
}
