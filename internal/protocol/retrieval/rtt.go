package retrieval

import "time"

// rttEstimator 往返时间估计器
//
// 保留最近 window 个样本；样本数达到 minSamples 后，
// 超时取 2×平均值并限制在 [min, max]，此前固定为 max。
type rttEstimator struct {
	min, max   time.Duration
	window     int
	minSamples int

	samples []time.Duration
	average time.Duration
	timeout time.Duration
}

func newRTTEstimator(cfg Config) *rttEstimator {
	return &rttEstimator{
		min:        cfg.MinRoundTrip,
		max:        cfg.MaxRoundTrip,
		window:     cfg.RTTWindow,
		minSamples: cfg.RTTMinSamples,
		average:    cfg.MaxRoundTrip,
		timeout:    cfg.MaxRoundTrip,
	}
}

// add 记录一个样本
func (e *rttEstimator) add(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}
	e.samples = append(e.samples, rtt)
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
	if len(e.samples) < e.minSamples {
		return
	}

	var sum time.Duration
	for _, s := range e.samples {
		sum += s
	}
	e.average = sum / time.Duration(len(e.samples))

	t := 2 * e.average
	if t < e.min {
		t = e.min
	} else if t > e.max {
		t = e.max
	}
	e.timeout = t
}

// Timeout 返回当前超时
func (e *rttEstimator) Timeout() time.Duration { return e.timeout }

// Average 返回当前平均往返时间（样本不足时为上限）
func (e *rttEstimator) Average() time.Duration { return e.average }

// Samples 返回样本数
func (e *rttEstimator) Samples() int { return len(e.samples) }
