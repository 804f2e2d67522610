package session

import (
	"time"

	"github.com/benbjohnson/clock"
)

type levelSource interface {
	Level() float64
}

// sampler polls a level source on a ticker and publishes the clamped value.
// Stop returns only after the last emit has finished.
type sampler struct {
	stop chan struct{}
	done chan struct{}
}

func startSampler(clk clock.Clock, interval time.Duration, src levelSource, emit func(float64)) *sampler {
	sp := &sampler{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	ticker := clk.Ticker(interval)

	go func() {
		defer close(sp.done)
		defer ticker.Stop()

		for {
			select {
			case <-sp.stop:
				return
			case <-ticker.C:
				emit(clampLevel(src.Level()))
			}
		}
	}()

	return sp
}

func (sp *sampler) Stop() {
	close(sp.stop)
	<-sp.done
}

func clampLevel(v float64) float64 {
	if v != v || v < 0 { // NaN
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
