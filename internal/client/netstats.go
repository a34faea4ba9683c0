package client

import "sort"

// ArrivalStats 快照到达统计：滚动记录到达间隔，
// 导出抖动与分位数，供自适应插值延迟使用。只观测，不产生副作用。
type ArrivalStats struct {
	intervals   []int64 // 到达间隔（毫秒），滚动窗口
	lastArrival int64
	total       int64
}

// NewArrivalStats 创建到达统计
func NewArrivalStats() *ArrivalStats {
	return &ArrivalStats{
		intervals: make([]int64, 0, ArrivalWindowSize),
	}
}

// Record 记录一次快照到达
func (s *ArrivalStats) Record(now int64) {
	s.total++
	if s.lastArrival != 0 {
		s.intervals = append(s.intervals, now-s.lastArrival)
		if len(s.intervals) > ArrivalWindowSize {
			s.intervals = s.intervals[1:]
		}
	}
	s.lastArrival = now
}

// MeanIntervalMs 平均到达间隔
func (s *ArrivalStats) MeanIntervalMs() float64 {
	if len(s.intervals) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.intervals {
		sum += v
	}
	return float64(sum) / float64(len(s.intervals))
}

// JitterMs 到达间隔的平均绝对偏差
func (s *ArrivalStats) JitterMs() float64 {
	if len(s.intervals) < 2 {
		return 0
	}
	mean := s.MeanIntervalMs()
	var dev float64
	for _, v := range s.intervals {
		d := float64(v) - mean
		if d < 0 {
			d = -d
		}
		dev += d
	}
	return dev / float64(len(s.intervals))
}

// P95IntervalMs 到达间隔的 95 分位
func (s *ArrivalStats) P95IntervalMs() int64 {
	if len(s.intervals) == 0 {
		return 0
	}
	sorted := make([]int64, len(s.intervals))
	copy(sorted, s.intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SampleCount 累计到达次数
func (s *ArrivalStats) SampleCount() int64 {
	return s.total
}

// AdaptiveDelayMs 由观测抖动计算插值延迟：
// delay = base + jitter * cushion，夹在 [min, max] 内。
// 网络差时用延迟换平滑，网络好时自动收紧。
func AdaptiveDelayMs(jitterMs float64) int64 {
	delay := DefaultInterpolationDelayMs + int64(jitterMs*JitterCushionFactor)
	if delay < MinInterpolationDelayMs {
		delay = MinInterpolationDelayMs
	}
	if delay > MaxInterpolationDelayMs {
		delay = MaxInterpolationDelayMs
	}
	return delay
}
