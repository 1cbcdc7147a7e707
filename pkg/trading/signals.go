package trading

import (
	"hash/fnv"
	"math"
	"time"
)

// DeterministicSentimentProvider is a default resources.SentimentProvider
// that derives a slowly-drifting pseudo-sentiment score from the sphere name
// and wall-clock time, so repeated samples within a round feel stable but
// samples across rounds still move. It exists so the trading simulation
// runs end-to-end without a live external feed wired in, and is meant to be
// swapped for a real implementation of the same interface.
type DeterministicSentimentProvider struct{}

// Sample returns a score in [-1, 1] for sphere.
func (DeterministicSentimentProvider) Sample(sphere string) (float64, error) {
	seed := float64(hashString(sphere) % 1000)
	phase := float64(time.Now().Unix()/60) + seed
	return math.Sin(phase / 37.0), nil
}

// StaticAccountFeedProvider is a default resources.AccountFeedProvider that
// always reports no new post. Like DeterministicSentimentProvider, it is a
// placeholder for a real social-feed integration.
type StaticAccountFeedProvider struct{}

// Latest always returns an empty string: no tracked post available.
func (StaticAccountFeedProvider) Latest(handle string) (string, error) {
	return "", nil
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
