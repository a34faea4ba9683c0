package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 测试用虚拟时钟，各测试文件共用
type fakeClock struct {
	now int64
}

func (f *fakeClock) NowMs() int64 { return f.now }

func (f *fakeClock) advance(ms int64) { f.now += ms }

func TestClockSync(t *testing.T) {
	t.Run("首个样本直接赋值", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		cs.RecordProbeSent(1, 1000)
		clk.now = 1100
		cs.HandleProbeResponse(1, 1050)

		// RTT = 1100 - 1000 = 100
		// 服务器当前时间 = 1050 + 50 = 1100，偏移 = 0
		require.True(t, cs.Synced())
		assert.InDelta(t, 100, cs.RTTMs(), 1e-9)
		assert.InDelta(t, 0, cs.OffsetMs(), 1e-9)
		assert.Equal(t, int64(1100), cs.ServerTimeMs())
	})

	t.Run("后续样本做滑动平均", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		cs.RecordProbeSent(1, 1000)
		clk.now = 1100
		cs.HandleProbeResponse(1, 1050)

		// 第二个样本 RTT 200，服务器快 500ms
		cs.RecordProbeSent(2, 1100)
		clk.now = 1300
		cs.HandleProbeResponse(2, 1900)
		// measuredOffset = (1900 + 100) - 1300 = 700

		assert.InDelta(t, 100*0.8+200*0.2, cs.RTTMs(), 1e-9)
		assert.InDelta(t, 0*0.9+700*0.1, cs.OffsetMs(), 1e-9)
		// 抖动 = |200 - 100| * 0.1
		assert.InDelta(t, 10, cs.JitterMs(), 1e-9)
	})

	t.Run("偏移估计收敛到真实值", func(t *testing.T) {
		const trueOffset = 2500 // 服务器快 2.5 秒
		clk := &fakeClock{now: 0}
		cs := NewClockSync(clk)

		for seq := int32(1); seq <= 100; seq++ {
			sent := clk.now
			cs.RecordProbeSent(seq, sent)
			clk.advance(80) // 对称 RTT 80ms
			cs.HandleProbeResponse(seq, sent+40+trueOffset)
			clk.advance(2000)
		}

		assert.InDelta(t, trueOffset, cs.OffsetMs(), 1.0)
		assert.InDelta(t, 80, cs.RTTMs(), 1e-6)
		assert.InDelta(t, 0, cs.JitterMs(), 1e-6)
	})

	t.Run("未知序号的响应静默丢弃", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		cs.HandleProbeResponse(42, 5000)

		assert.False(t, cs.Synced())
		assert.InDelta(t, 0, cs.OffsetMs(), 1e-9)
	})

	t.Run("重复响应只消费一次", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		cs.RecordProbeSent(1, 1000)
		clk.now = 1100
		cs.HandleProbeResponse(1, 1050)
		rtt := cs.RTTMs()

		clk.now = 1500
		cs.HandleProbeResponse(1, 2000) // 同一序号再次响应

		assert.Equal(t, rtt, cs.RTTMs())
	})

	t.Run("按间隔分配探测", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		seq, sendTime, ok := cs.MaybeProbe()
		require.True(t, ok)
		assert.Equal(t, int32(1), seq)
		assert.Equal(t, int64(1000), sendTime)

		// 间隔未到
		clk.advance(ProbeIntervalMs - 1)
		_, _, ok = cs.MaybeProbe()
		assert.False(t, ok)

		clk.advance(1)
		seq, _, ok = cs.MaybeProbe()
		require.True(t, ok)
		assert.Equal(t, int32(2), seq)
	})

	t.Run("过期探测被回收", func(t *testing.T) {
		clk := &fakeClock{now: 1000}
		cs := NewClockSync(clk)

		seq1, _, ok := cs.MaybeProbe()
		require.True(t, ok)
		assert.Equal(t, 1, cs.PendingProbes())

		// 超过过期时间后下一次探测触发回收
		clk.advance(ProbeStaleMs + ProbeIntervalMs)
		_, _, ok = cs.MaybeProbe()
		require.True(t, ok)
		assert.Equal(t, 1, cs.PendingProbes())

		// 过期探测的迟到响应不再生效
		cs.HandleProbeResponse(seq1, 9999)
		assert.False(t, cs.Synced())
	})
}
