package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"voxchat/internal/voice"
)

func TestAnalyticsIgnoresTurnsWithoutLatency(t *testing.T) {
	var a Analytics
	a.Add(voice.Turn{Role: voice.RoleUser, WordCount: 3, TokenEstimate: 4})
	a.Add(voice.Turn{Role: voice.RoleAssistant, WordCount: 5, TokenEstimate: 7, Latency: 300 * time.Millisecond})
	a.Add(voice.Turn{Role: voice.RoleUser, WordCount: 1, TokenEstimate: 2})
	a.Add(voice.Turn{Role: voice.RoleAssistant, WordCount: 2, TokenEstimate: 3, Latency: 100 * time.Millisecond})

	assert.Equal(t, 11, a.TotalWords)
	assert.Equal(t, 16, a.TotalTokens)
	assert.Equal(t, 4, a.MessageCount)
	assert.Equal(t, 2, a.LatencySamples())
	assert.Equal(t, 200*time.Millisecond, a.AverageLatency)
}

func TestAnalyticsMatchesBatchAggregation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		turns := rapid.SliceOf(rapid.Custom(func(t *rapid.T) voice.Turn {
			return voice.Turn{
				WordCount:     rapid.IntRange(0, 500).Draw(t, "words"),
				TokenEstimate: rapid.IntRange(0, 700).Draw(t, "tokens"),
				Latency:       time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "latency")),
			}
		})).Draw(t, "turns")

		var a Analytics
		var words, tokens, samples int
		var sum time.Duration
		for _, turn := range turns {
			a.Add(turn)
			words += turn.WordCount
			tokens += turn.TokenEstimate
			if turn.Latency > 0 {
				sum += turn.Latency
				samples++
			}
		}

		if a.TotalWords != words || a.TotalTokens != tokens || a.MessageCount != len(turns) {
			t.Fatalf("totals %+v, want words=%d tokens=%d count=%d", a, words, tokens, len(turns))
		}
		if a.LatencySamples() != samples {
			t.Fatalf("samples %d, want %d", a.LatencySamples(), samples)
		}
		var mean time.Duration
		if samples > 0 {
			mean = sum / time.Duration(samples)
		}
		// Each incremental step truncates by under a nanosecond.
		diff := a.AverageLatency - mean
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Duration(samples+1) {
			t.Fatalf("average %v, batch mean %v", a.AverageLatency, mean)
		}
	})
}
