// Package resources holds the process-lifetime collaborators the
// orchestrator and the round scheduler are constructed with, in place of
// reaching the database and LLM client through package-level singletons.
// This struct is built once at process start (cmd/forecastmarket/main.go)
// and passed down rather than referenced as global state.
package resources

import (
	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// SentimentProvider samples an opaque sentiment score for one of the noise
// traders' "spheres" (spec §4.5 "9 Noise (sphere-flavored sentiment)").
type SentimentProvider interface {
	// Sample returns a score in [-1, 1] for sphere.
	Sample(sphere string) (float64, error)
}

// AccountFeedProvider surfaces recent posts from a tracked external account
// for the user-tracking traders (spec §4.5 "4 User-tracking").
type AccountFeedProvider interface {
	// Latest returns the most recent post text (possibly empty) for handle.
	Latest(handle string) (string, error)
}

// Resources bundles every external collaborator the forecasting pipeline
// and the trading simulation depend on. One instance is constructed at
// process start and torn down at shutdown (Store.Close).
type Resources struct {
	Store               store.Store
	LLM                 llm.Provider
	SentimentProvider   SentimentProvider
	AccountFeedProvider AccountFeedProvider
}
