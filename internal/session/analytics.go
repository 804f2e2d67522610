package session

import (
	"time"

	"voxchat/internal/voice"
)

// Analytics aggregates conversation statistics. It is updated one turn at a
// time and never rebuilt from history.
type Analytics struct {
	TotalWords     int
	TotalTokens    int
	MessageCount   int
	AverageLatency time.Duration

	latencySamples int
}

// Add folds a completed turn into the aggregate.
func (a *Analytics) Add(t voice.Turn) {
	a.TotalWords += t.WordCount
	a.TotalTokens += t.TokenEstimate
	a.MessageCount++

	if t.Latency <= 0 {
		return
	}
	a.latencySamples++
	a.AverageLatency += (t.Latency - a.AverageLatency) / time.Duration(a.latencySamples)
}

// LatencySamples is the number of turns contributing to AverageLatency.
func (a Analytics) LatencySamples() int {
	return a.latencySamples
}
