package protocol

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantize(t *testing.T) {
	t.Run("保留两位小数", func(t *testing.T) {
		assert.InDelta(t, 1.23, Quantize(1.234), 1e-9)
		assert.InDelta(t, 1.24, Quantize(1.236), 1e-9)
		assert.InDelta(t, -1.23, Quantize(-1.234), 1e-9)
	})

	t.Run("幂等", func(t *testing.T) {
		for _, x := range []float64{0, 1.005, -99.994, 3.14159, 100.0} {
			q := Quantize(x)
			assert.Equal(t, q, Quantize(q), "x=%v", x)
		}
	})

	t.Run("非有限数原样返回", func(t *testing.T) {
		assert.True(t, math.IsNaN(Quantize(math.NaN())))
		assert.True(t, math.IsInf(Quantize(math.Inf(1)), 1))
		assert.True(t, math.IsInf(Quantize(math.Inf(-1)), -1))
	})
}

func TestComputeEntityDelta(t *testing.T) {
	base := EntityState{
		ID: 7, X: 1.0, Z: 2.0, TargetX: 3.0, TargetZ: 4.0,
		IsMoving: true, Health: 100, Alive: true,
	}

	t.Run("无上次状态时返回整包", func(t *testing.T) {
		delta := ComputeEntityDelta(base, nil)

		require.NotNil(t, delta)
		assert.True(t, delta.Full)
		require.NotNil(t, delta.X)
		require.NotNil(t, delta.Health)
		assert.InDelta(t, 1.0, *delta.X, 1e-9)
		assert.Equal(t, int32(100), *delta.Health)
	})

	t.Run("无变化时返回 nil", func(t *testing.T) {
		prev := base
		assert.Nil(t, ComputeEntityDelta(base, &prev))
	})

	t.Run("只携带变化的字段", func(t *testing.T) {
		prev := base
		cur := base
		cur.X = 1.5
		cur.Health = 80

		delta := ComputeEntityDelta(cur, &prev)

		require.NotNil(t, delta)
		assert.False(t, delta.Full)
		require.NotNil(t, delta.X)
		assert.InDelta(t, 1.5, *delta.X, 1e-9)
		require.NotNil(t, delta.Health)
		assert.Equal(t, int32(80), *delta.Health)
		assert.Nil(t, delta.Z)
		assert.Nil(t, delta.TargetX)
		assert.Nil(t, delta.IsMoving)
		assert.Nil(t, delta.Alive)
	})

	t.Run("量化以下的位置噪声被滤掉", func(t *testing.T) {
		prev := base
		cur := base
		cur.X = base.X + 0.001 // 量化后不变

		assert.Nil(t, ComputeEntityDelta(cur, &prev))
	})

	t.Run("量化后的最小变化仍被携带", func(t *testing.T) {
		prev := base
		cur := base
		cur.X = base.X + 0.01

		delta := ComputeEntityDelta(cur, &prev)
		require.NotNil(t, delta)
		require.NotNil(t, delta.X)
	})
}

func TestApplyEntityDelta(t *testing.T) {
	t.Run("合并增量还原完整状态", func(t *testing.T) {
		prev := QuantizeEntity(EntityState{
			ID: 3, X: 1.0, Z: 2.0, TargetX: 3.0, TargetZ: 4.0,
			IsMoving: true, Health: 100, Alive: true,
		})
		cur := prev
		cur.X = 1.5
		cur.IsMoving = false

		delta := ComputeEntityDelta(cur, &prev)
		require.NotNil(t, delta)

		got := ApplyEntityDelta(delta, &prev)
		assert.Equal(t, cur, got)
	})

	t.Run("整包增量不依赖上次状态", func(t *testing.T) {
		cur := QuantizeEntity(EntityState{
			ID: 5, X: 9.87, Z: -6.54, TargetX: 1.0, TargetZ: 2.0,
			IsMoving: true, Health: 42, Alive: true,
		})
		stale := EntityState{ID: 5, X: 999, Health: 1}

		got := ApplyEntityDelta(FullDelta(cur), &stale)
		assert.Equal(t, cur, got)

		got = ApplyEntityDelta(FullDelta(cur), nil)
		assert.Equal(t, cur, got)
	})

	t.Run("幂等：同一增量应用两次结果相同", func(t *testing.T) {
		prev := QuantizeEntity(EntityState{ID: 1, X: 0, Z: 0, Health: 100, Alive: true})
		cur := prev
		cur.Z = 7.25

		delta := ComputeEntityDelta(cur, &prev)
		require.NotNil(t, delta)

		once := ApplyEntityDelta(delta, &prev)
		twice := ApplyEntityDelta(delta, &prev)
		assert.Equal(t, once, twice)
	})

	t.Run("随机漫步往返一致", func(t *testing.T) {
		// 接收方只依赖增量流重建状态，每一步都必须与发送方一致
		sender := QuantizeEntity(EntityState{ID: 9, Health: 100, Alive: true})
		receiver := sender

		steps := []EntityState{
			{ID: 9, X: 0.5, Z: 0, TargetX: 5, TargetZ: 5, IsMoving: true, Health: 100, Alive: true},
			{ID: 9, X: 1.0, Z: 0.5, TargetX: 5, TargetZ: 5, IsMoving: true, Health: 90, Alive: true},
			{ID: 9, X: 1.0, Z: 0.5, TargetX: 5, TargetZ: 5, IsMoving: true, Health: 90, Alive: true}, // 无变化
			{ID: 9, X: 5, Z: 5, TargetX: 5, TargetZ: 5, IsMoving: false, Health: 0, Alive: false},
		}

		for i, next := range steps {
			next = QuantizeEntity(next)
			delta := ComputeEntityDelta(next, &sender)
			if delta == nil {
				assert.Equal(t, sender, next, "step %d", i)
				continue
			}
			receiver = ApplyEntityDelta(delta, &receiver)
			sender = next
			assert.Equal(t, sender, receiver, "step %d", i)
		}
	})
}

func TestEntityDeltaWireSize(t *testing.T) {
	// 未变化的字段不得出现在线上编码里
	prev := QuantizeEntity(EntityState{ID: 2, X: 1, Z: 2, Health: 100, Alive: true})
	cur := prev
	cur.X = 1.5

	delta := ComputeEntityDelta(cur, &prev)
	require.NotNil(t, delta)

	data, err := json.Marshal(delta)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"x"`)
	assert.NotContains(t, string(data), `"z"`)
	assert.NotContains(t, string(data), `"health"`)
	assert.NotContains(t, string(data), `"alive"`)
}
