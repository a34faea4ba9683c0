package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knifearena/pkg/protocol"
)

func encodePacket(t *testing.T, pkt *protocol.Packet) []byte {
	t.Helper()
	data, err := protocol.MarshalPacket(pkt)
	require.NoError(t, err)
	return data
}

func TestDecodePacket(t *testing.T) {
	t.Run("加入请求", func(t *testing.T) {
		pkt, err := protocol.NewJoinPacket("alice", "")
		require.NoError(t, err)
		data := encodePacket(t, pkt)

		event, err := DecodePacket(data)
		require.NoError(t, err)
		assert.Equal(t, EventJoin, event.Kind)
		require.NotNil(t, event.Join)
		assert.Equal(t, "alice", event.Join.PlayerName)
	})

	t.Run("合法移动指令", func(t *testing.T) {
		pkt, err := protocol.NewMovePacket(&protocol.MoveCmd{
			TargetX: 50, TargetZ: -50, ActionID: 1, Seq: 1, ClientTime: 1000,
		})
		require.NoError(t, err)
		data := encodePacket(t, pkt)

		event, err := DecodePacket(data)
		require.NoError(t, err)
		assert.Equal(t, EventMove, event.Kind)
		require.NotNil(t, event.Move)
		assert.Equal(t, int32(1), event.Move.Cmd.Seq)
	})

	t.Run("越界移动指令被拒", func(t *testing.T) {
		pkt, err := protocol.NewMovePacket(&protocol.MoveCmd{
			TargetX: 1e6, TargetZ: 0, Seq: 1,
		})
		require.NoError(t, err)
		data := encodePacket(t, pkt)

		_, err = DecodePacket(data)
		assert.ErrorIs(t, err, protocol.ErrInvalidCoordinate)
	})

	t.Run("非正序号的移动指令被拒", func(t *testing.T) {
		pkt, err := protocol.NewMovePacket(&protocol.MoveCmd{
			TargetX: 1, TargetZ: 1, Seq: 0,
		})
		require.NoError(t, err)
		data := encodePacket(t, pkt)

		_, err = DecodePacket(data)
		assert.ErrorIs(t, err, protocol.ErrInvalidSequence)
	})

	t.Run("时钟探测", func(t *testing.T) {
		pkt, err := protocol.NewClockProbePacket(3, 12345)
		require.NoError(t, err)
		data := encodePacket(t, pkt)

		event, err := DecodePacket(data)
		require.NoError(t, err)
		assert.Equal(t, EventClockProbe, event.Kind)
		require.NotNil(t, event.ClockProbe)
		assert.Equal(t, int32(3), event.ClockProbe.Seq)
		assert.Equal(t, int64(12345), event.ClockProbe.ClientSendTime)
	})

	t.Run("未知类型归为 Unknown", func(t *testing.T) {
		event, err := DecodePacket([]byte(`{"type":"gossip","data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, EventUnknown, event.Kind)
	})

	t.Run("垃圾字节报错", func(t *testing.T) {
		_, err := DecodePacket([]byte("not json"))
		assert.Error(t, err)
	})
}
