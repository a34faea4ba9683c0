package protocol

import "math"

// 位置量化精度：保留 2 位小数。
// 精度是线上契约的一部分，收发双方必须一致，
// 否则增量比较的阈值判断会在两端产生不同结果。
const quantizeScale = 100.0

// Quantize 将位置字段量化到固定精度。
// 有损但确定：同一输入永远量化到同一结果，且满足幂等
// Quantize(Quantize(x)) == Quantize(x)。
func Quantize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x*quantizeScale) / quantizeScale
}

// QuantizeEntity 量化实体状态中的所有位置字段
func QuantizeEntity(e EntityState) EntityState {
	e.X = Quantize(e.X)
	e.Z = Quantize(e.Z)
	e.TargetX = Quantize(e.TargetX)
	e.TargetZ = Quantize(e.TargetZ)
	return e
}
