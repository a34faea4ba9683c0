package core

import "math"

// Vec2 平面坐标（俯视视角的 X/Z 平面）
type Vec2 struct {
	X float64
	Z float64
}

// Sub 向量减法
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Z: v.Z - o.Z}
}

// Add 向量加法
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Z: v.Z + o.Z}
}

// Scale 向量缩放
func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{X: v.X * s, Z: v.Z * s}
}

// Length 向量长度
func (v Vec2) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Z*v.Z)
}

// Distance 两点距离
func Distance(a, b Vec2) float64 {
	return a.Sub(b).Length()
}

// Lerp 线性插值，t 取 [0,1]
func Lerp(a, b Vec2, t float64) Vec2 {
	return Vec2{
		X: a.X + (b.X-a.X)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Clamp01 将 t 限制在 [0,1]
func Clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// EaseOutCubic 三次缓出曲线：起步快、收尾慢
func EaseOutCubic(t float64) float64 {
	t = Clamp01(t)
	inv := 1 - t
	return 1 - inv*inv*inv
}
