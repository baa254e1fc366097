package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly rate*N of N recorded events to the
// inner observer. Rate 0 drops everything, rate 1 (or higher) passes
// everything through.
type SamplingObserver struct {
	inner   Observer
	stride  uint64
	counter uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var stride uint64
	switch {
	case rate <= 0:
		stride = 0
	case rate >= 1:
		stride = 1
	default:
		stride = uint64(math.Round(1.0 / rate))
		if stride == 0 {
			stride = 1
		}
	}
	return &SamplingObserver{inner: inner, stride: stride}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	switch s.stride {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
	default:
		if atomic.AddUint64(&s.counter, 1)%s.stride == 0 {
			s.inner.RecordEvent(ev)
		}
	}
}
