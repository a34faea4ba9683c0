package client

import "time"

// Clock 毫秒时钟。定时行为都通过它取当前时间，
// 测试里注入虚拟时钟即可推进时间，不需要真实等待。
type Clock interface {
	NowMs() int64
}

type systemClock struct{}

func (systemClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

// SystemClock 系统时钟
var SystemClock Clock = systemClock{}
