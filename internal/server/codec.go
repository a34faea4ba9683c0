package server

import (
	"fmt"

	"knifearena/pkg/core"
	"knifearena/pkg/protocol"
)

// DecodePacket 解析服务器收到的数据包。
// 移动与动作指令在这里做数值校验，非法的直接报错丢弃，绝不进入房间状态。
func DecodePacket(data []byte) (*ServerEvent, error) {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return nil, fmt.Errorf("解析包失败: %w", err)
	}

	switch pkt.Type {
	case protocol.MsgJoin:
		req, err := protocol.ParseJoin(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventJoin,
			Join: &JoinEvent{
				PlayerName: req.PlayerName,
				RoomID:     req.RoomID,
			},
		}, nil

	case protocol.MsgRejoin:
		req, err := protocol.ParseRejoin(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind:   EventRejoin,
			Rejoin: &RejoinEvent{SessionToken: req.SessionToken},
		}, nil

	case protocol.MsgReady:
		if _, err := protocol.ParseReady(pkt); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventReady}, nil

	case protocol.MsgMove:
		cmd, err := protocol.ParseMove(pkt)
		if err != nil {
			return nil, err
		}
		if err := protocol.ValidateMove(cmd, core.ArenaBound); err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventMove,
			Move: &MoveEvent{Cmd: cmd},
		}, nil

	case protocol.MsgAction:
		cmd, err := protocol.ParseAction(pkt)
		if err != nil {
			return nil, err
		}
		if err := protocol.ValidateAction(cmd, core.ArenaBound); err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind:   EventAction,
			Action: &ActionEvent{Cmd: cmd},
		}, nil

	case protocol.MsgClockProbe:
		probe, err := protocol.ParseClockProbe(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind:       EventClockProbe,
			ClockProbe: &ClockProbeEvent{Seq: probe.Seq, ClientSendTime: probe.ClientSendTime},
		}, nil

	default:
		return &ServerEvent{Kind: EventUnknown}, nil
	}
}
