package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knifearena/pkg/core"
	"knifearena/pkg/protocol"
)

// joinTestPlayer 直接驱动房间的加入处理（不经过房间循环协程）
func joinTestPlayer(t *testing.T, r *Room) (*Connection, int32) {
	t.Helper()
	conn := NewConnection(nil, nil)
	respCh := make(chan error, 1)
	r.handleJoin(joinRequest{conn: conn, req: &JoinEvent{PlayerName: "tester"}, respCh: respCh})
	require.NoError(t, <-respCh)
	return conn, conn.getPlayerID()
}

// drainSent 解码连接发送队列里积压的消息
func drainSent(t *testing.T, conn *Connection) []*protocol.Packet {
	t.Helper()
	var out []*protocol.Packet
	for {
		select {
		case data := <-conn.sendChan:
			pkt, err := protocol.UnmarshalPacket(data)
			require.NoError(t, err)
			out = append(out, pkt)
		default:
			return out
		}
	}
}

func findPacket(pkts []*protocol.Packet, typ protocol.MessageType) *protocol.Packet {
	for _, pkt := range pkts {
		if pkt.Type == typ {
			return pkt
		}
	}
	return nil
}

func TestRoomJoin(t *testing.T) {
	t.Run("加入下发确认与会话令牌", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, playerID := joinTestPlayer(t, r)

		pkts := drainSent(t, conn)
		joinAckPkt := findPacket(pkts, protocol.MsgJoinAck)
		require.NotNil(t, joinAckPkt)

		ack, err := protocol.ParseJoinAck(joinAckPkt)
		require.NoError(t, err)
		assert.Equal(t, playerID, ack.PlayerID)
		assert.Equal(t, r.ID(), ack.RoomID)
		require.Len(t, ack.Entities, 1)

		// 令牌能找回身份
		gotID, gotRoom, err := VerifySessionToken(ack.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, playerID, gotID)
		assert.Equal(t, r.ID(), gotRoom)
	})

	t.Run("后加入者触发出生广播", func(t *testing.T) {
		r := NewRoom(context.Background())
		connA, _ := joinTestPlayer(t, r)
		drainSent(t, connA)

		_, idB := joinTestPlayer(t, r)

		pkts := drainSent(t, connA)
		spawnPkt := findPacket(pkts, protocol.MsgSpawn)
		require.NotNil(t, spawnPkt)

		event, err := protocol.ParseSpawn(spawnPkt)
		require.NoError(t, err)
		assert.Equal(t, idB, event.Entity.ID)
	})

	t.Run("房间满拒绝加入", func(t *testing.T) {
		r := NewRoom(context.Background())
		for i := 0; i < MaxPlayers; i++ {
			joinTestPlayer(t, r)
		}

		conn := NewConnection(nil, nil)
		respCh := make(chan error, 1)
		r.handleJoin(joinRequest{conn: conn, req: &JoinEvent{}, respCh: respCh})
		assert.Error(t, <-respCh)
	})
}

func TestRoomMove(t *testing.T) {
	t.Run("移动指令推进确认游标并回显权威位置", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, playerID := joinTestPlayer(t, r)
		drainSent(t, conn)

		r.handleMove(&MoveEvent{PlayerID: playerID, Cmd: &protocol.MoveCmd{
			TargetX: 10, TargetZ: 0, ActionID: 1, Seq: 1,
		}})

		assert.Equal(t, int32(1), r.ackCursors[playerID])
		player := r.players[playerID]
		assert.Equal(t, core.Vec2{X: 10, Z: 0}, player.Target)
		assert.True(t, player.IsMoving)

		pkts := drainSent(t, conn)
		ackPkt := findPacket(pkts, protocol.MsgMoveAck)
		require.NotNil(t, ackPkt)
		ack, err := protocol.ParseMoveAck(ackPkt)
		require.NoError(t, err)
		assert.Equal(t, int32(1), ack.ActionID)
		assert.InDelta(t, player.Pos.X, ack.X, 1e-9)
	})

	t.Run("过期序号被忽略", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, playerID := joinTestPlayer(t, r)
		drainSent(t, conn)

		r.handleMove(&MoveEvent{PlayerID: playerID, Cmd: &protocol.MoveCmd{
			TargetX: 10, TargetZ: 0, ActionID: 3, Seq: 3,
		}})
		r.handleMove(&MoveEvent{PlayerID: playerID, Cmd: &protocol.MoveCmd{
			TargetX: -10, TargetZ: 0, ActionID: 2, Seq: 2,
		}})

		assert.Equal(t, int32(3), r.ackCursors[playerID])
		assert.Equal(t, core.Vec2{X: 10, Z: 0}, r.players[playerID].Target)
	})

	t.Run("未知玩家的移动被忽略", func(t *testing.T) {
		r := NewRoom(context.Background())
		r.handleMove(&MoveEvent{PlayerID: 99, Cmd: &protocol.MoveCmd{Seq: 1}})
		assert.Empty(t, r.ackCursors)
	})
}

func TestRoomSnapshots(t *testing.T) {
	t.Run("tick 推进模拟并发送增量快照", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, playerID := joinTestPlayer(t, r)
		drainSent(t, conn)

		r.handleMove(&MoveEvent{PlayerID: playerID, Cmd: &protocol.MoveCmd{
			TargetX: 10, TargetZ: 0, ActionID: 1, Seq: 1,
		}})
		drainSent(t, conn)

		r.step()

		pkts := drainSent(t, conn)
		statePkt := findPacket(pkts, protocol.MsgState)
		require.NotNil(t, statePkt)

		snap, err := protocol.ParseState(statePkt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.ServerTick)
		assert.Equal(t, int32(1), snap.Ack)
		assert.True(t, snap.Delta)
		require.Len(t, snap.Entities, 1)
	})

	t.Run("无变化的增量帧整体省略", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, _ := joinTestPlayer(t, r)

		// 第一个 tick 发整包（缓存为空），之后玩家静止
		r.step()
		drainSent(t, conn)

		r.step()
		pkts := drainSent(t, conn)
		assert.Nil(t, findPacket(pkts, protocol.MsgState))
	})

	t.Run("关键帧按固定节奏发送整包", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, _ := joinTestPlayer(t, r)
		drainSent(t, conn)

		var fullCount int
		for i := 0; i < keyframeInterval*2; i++ {
			r.step()
			for _, pkt := range drainSent(t, conn) {
				if pkt.Type != protocol.MsgState {
					continue
				}
				snap, err := protocol.ParseState(pkt)
				require.NoError(t, err)
				if snap.Full {
					fullCount++
					require.Len(t, snap.Entities, 1)
					assert.True(t, snap.Entities[0].Full)
				}
			}
		}
		assert.Equal(t, 2, fullCount)
	})

	t.Run("增量流能在客户端重建权威状态", func(t *testing.T) {
		r := NewRoom(context.Background())
		conn, playerID := joinTestPlayer(t, r)

		pkts := drainSent(t, conn)
		ack, err := protocol.ParseJoinAck(findPacket(pkts, protocol.MsgJoinAck))
		require.NoError(t, err)
		mirror := map[int32]protocol.EntityState{}
		for _, e := range ack.Entities {
			mirror[e.ID] = protocol.QuantizeEntity(e)
		}

		r.handleMove(&MoveEvent{PlayerID: playerID, Cmd: &protocol.MoveCmd{
			TargetX: 0, TargetZ: 0, ActionID: 1, Seq: 1,
		}})

		for i := 0; i < 10; i++ {
			r.step()
			for _, pkt := range drainSent(t, conn) {
				if pkt.Type != protocol.MsgState {
					continue
				}
				snap, err := protocol.ParseState(pkt)
				require.NoError(t, err)
				for j := range snap.Entities {
					delta := &snap.Entities[j]
					var prev *protocol.EntityState
					if cached, ok := mirror[delta.ID]; ok && !snap.Full {
						prev = &cached
					}
					mirror[delta.ID] = protocol.ApplyEntityDelta(delta, prev)
				}
			}
		}

		// 镜像与服务器的权威状态一致
		player := r.players[playerID]
		got := mirror[playerID]
		assert.InDelta(t, protocol.Quantize(player.Pos.X), got.X, 1e-9)
		assert.InDelta(t, protocol.Quantize(player.Pos.Z), got.Z, 1e-9)
		assert.Equal(t, player.IsMoving, got.IsMoving)
	})
}

func TestRoomLeaveAndRejoin(t *testing.T) {
	t.Run("离开广播销毁", func(t *testing.T) {
		r := NewRoom(context.Background())
		connA, _ := joinTestPlayer(t, r)
		_, idB := joinTestPlayer(t, r)
		drainSent(t, connA)

		r.handleLeave(idB)

		pkts := drainSent(t, connA)
		destroyPkt := findPacket(pkts, protocol.MsgDestroy)
		require.NotNil(t, destroyPkt)
		event, err := protocol.ParseDestroy(destroyPkt)
		require.NoError(t, err)
		assert.Equal(t, idB, event.ID)
		assert.NotContains(t, r.players, idB)
	})

	t.Run("凭令牌重连找回原玩家", func(t *testing.T) {
		r := NewRoom(context.Background())
		oldConn, playerID := joinTestPlayer(t, r)

		pkts := drainSent(t, oldConn)
		ack, err := protocol.ParseJoinAck(findPacket(pkts, protocol.MsgJoinAck))
		require.NoError(t, err)

		// 把玩家挪到一个可辨识的位置
		r.players[playerID].Pos = core.Vec2{X: 7, Z: 7}

		newConn := NewConnection(nil, nil)
		respCh := make(chan error, 1)
		r.handleRejoin(rejoinRequest{conn: newConn, req: &RejoinEvent{SessionToken: ack.SessionToken}, respCh: respCh})
		require.NoError(t, <-respCh)

		// 旧连接被换下，新连接拿到同一身份与当前状态
		assert.Same(t, newConn, r.connections[playerID])
		assert.Equal(t, playerID, newConn.getPlayerID())

		pkts = drainSent(t, newConn)
		ack2, err := protocol.ParseJoinAck(findPacket(pkts, protocol.MsgJoinAck))
		require.NoError(t, err)
		assert.Equal(t, playerID, ack2.PlayerID)
		require.Len(t, ack2.Entities, 1)
		assert.InDelta(t, 7.0, ack2.Entities[0].X, 1e-9)
	})

	t.Run("伪造令牌重连被拒", func(t *testing.T) {
		r := NewRoom(context.Background())

		conn := NewConnection(nil, nil)
		respCh := make(chan error, 1)
		r.handleRejoin(rejoinRequest{conn: conn, req: &RejoinEvent{SessionToken: "forged"}, respCh: respCh})
		assert.Error(t, <-respCh)
	})

	t.Run("其他房间的令牌被拒", func(t *testing.T) {
		token, err := GenerateSessionToken(1, "some-other-room")
		require.NoError(t, err)

		r := NewRoom(context.Background())
		conn := NewConnection(nil, nil)
		respCh := make(chan error, 1)
		r.handleRejoin(rejoinRequest{conn: conn, req: &RejoinEvent{SessionToken: token}, respCh: respCh})
		assert.Error(t, <-respCh)
	})
}
