package trading

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sibylline/forecastmarket/pkg/market"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
)

// spheres and handles name the 9 Noise and 4 User-tracking identities (spec
// §4.5: fixed set of 18, persistent across a session).
var (
	noiseSpheres = []string{
		"macro-twitter", "crypto-discord", "polling-aggregators", "news-wires",
		"prediction-market-forums", "finance-subreddits", "sportsbook-chatter",
		"insider-rumor-mills", "contrarian-blogs",
	}
	trackedHandles = []string{
		"@market_watcher_1", "@market_watcher_2", "@market_watcher_3", "@market_watcher_4",
	}
)

// Trader is one of the 18 fixed identities in a session's trading pool.
type Trader struct {
	Name         string
	Type         models.TraderType
	Class        models.ForecasterClass // meaningful only for TraderTypeFundamental
	Sphere       string                 // meaningful only for TraderTypeNoise
	Handle       string                 // meaningful only for TraderTypeUser
	SystemPrompt string                 // persisted verbatim to TraderState.SystemPrompt

	probability atomic.Value // float64, set once by Scheduler.Run's seed step
	busy        atomic.Bool
}

// NewTraderPool builds the fixed 18-trader taxonomy (spec §4.5): 5
// Fundamental (one per forecaster_class), 9 Noise, 4 User-tracking.
func NewTraderPool() []*Trader {
	traders := make([]*Trader, 0, 18)
	for _, class := range models.AllForecasterClasses {
		t := &Trader{Name: fmt.Sprintf("fundamental-%s", class), Type: models.TraderTypeFundamental, Class: class}
		t.SystemPrompt = fmt.Sprintf(
			"You are a fundamental market maker tracking the %s forecaster. You quote tightly around "+
				"that forecaster's current probability estimate, trading on conviction rather than sentiment.",
			class)
		t.probability.Store(0.5)
		traders = append(traders, t)
	}
	for i, sphere := range noiseSpheres {
		t := &Trader{Name: fmt.Sprintf("noise-%d", i+1), Type: models.TraderTypeNoise, Sphere: sphere}
		t.SystemPrompt = fmt.Sprintf(
			"You are a noise trader reading sentiment from %s. You quote wide around whatever mood that "+
				"sphere is signaling, with no access to the underlying forecast.", sphere)
		traders = append(traders, t)
	}
	for i, handle := range trackedHandles {
		t := &Trader{Name: fmt.Sprintf("user-%d", i+1), Type: models.TraderTypeUser, Handle: handle}
		t.SystemPrompt = fmt.Sprintf(
			"You are a user-tracking trader shadowing %s's posts. You shift your quote toward the "+
				"sentiment of that account's most recent activity.", handle)
		traders = append(traders, t)
	}
	return traders
}

func (t *Trader) seedProbability(p float64) {
	t.probability.Store(p)
}

// tryAcquire implements the round-skip back-pressure rule (spec §4.5, §5):
// a trader with an in-flight decision from a prior round is skipped rather
// than queued.
func (t *Trader) tryAcquire() bool {
	return t.busy.CompareAndSwap(false, true)
}

func (t *Trader) release() {
	t.busy.Store(false)
}

// sampleSignal reads this trader's fresh signal for the round: a sentiment
// score for Noise traders, recent post text for User-tracking traders, and
// nothing for Fundamental traders (whose only input is its seeded
// probability).
func (t *Trader) sampleSignal(res resources.Resources) (string, error) {
	switch t.Type {
	case models.TraderTypeNoise:
		if res.SentimentProvider == nil {
			return "", nil
		}
		score, err := res.SentimentProvider.Sample(t.Sphere)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.4f", score), nil
	case models.TraderTypeUser:
		if res.AccountFeedProvider == nil {
			return "", nil
		}
		return res.AccountFeedProvider.Latest(t.Handle)
	default:
		return "", nil
	}
}

// Decide computes this round's (bid, ask, qty) quote in whole cents (spec
// §4.3's price domain) from the pre-round book snapshot, this trader's
// current TraderState, and its freshly-sampled signal. Each trader type
// centers its quote differently but all share the same clamp-to-valid-range
// and bid<ask-after-rounding discipline.
func (t *Trader) Decide(snap market.Snapshot, state models.TraderState, signal string) (bid, ask, qty int) {
	center := 50
	spread := 4
	qty = 5

	switch t.Type {
	case models.TraderTypeFundamental:
		p, _ := t.probability.Load().(float64)
		center = clampInt(int(p*100), models.MinPriceCents, models.MaxPriceCents)
		spread = 2 // Fundamental traders quote tight around their forecaster's belief

	case models.TraderTypeNoise:
		score := parseSignalFloat(signal)
		center = clampInt(50+int(score*20), models.MinPriceCents, models.MaxPriceCents)
		spread = 6 // Noise traders quote wider: they trade on sentiment, not conviction

	case models.TraderTypeUser:
		shift := sentimentFromText(signal)
		center = clampInt(50+shift, models.MinPriceCents, models.MaxPriceCents)
		spread = 5
	}

	// Inventory skew: a trader long on position quotes lower to attract
	// sellers, short quotes higher to attract buyers (a linear
	// simplification of a reservation-price nudge).
	center = clampInt(center-state.Position/2, models.MinPriceCents, models.MaxPriceCents)

	if mid, ok := snap.MidPrice(); ok {
		// Pull the quote halfway toward the prevailing book mid so isolated
		// traders don't immediately cross the whole spread against consensus.
		center = (center + mid) / 2
	}

	bid = clampInt(center-spread/2, models.MinPriceCents, models.MaxPriceCents)
	ask = clampInt(center+spread/2, models.MinPriceCents, models.MaxPriceCents)
	if bid >= ask {
		if ask < models.MaxPriceCents {
			ask = bid + 1
		} else {
			bid = ask - 1
		}
	}
	if bid < models.MinPriceCents {
		bid = models.MinPriceCents
	}
	return bid, ask, qty
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseSignalFloat(signal string) float64 {
	var f float64
	if _, err := fmt.Sscanf(signal, "%g", &f); err != nil {
		return 0
	}
	return f
}

// sentimentFromText is a deliberately simple keyword heuristic: a tracked
// account's post text nudges the quote up or down by 10 cents if it contains
// an unambiguous directional word, otherwise the trader stays neutral.
func sentimentFromText(text string) int {
	lower := strings.ToLower(text)
	bullish := []string{"bullish", "confident", "yes", "surge", "win"}
	bearish := []string{"bearish", "doubt", "no", "collapse", "lose"}
	for _, w := range bullish {
		if strings.Contains(lower, w) {
			return 10
		}
	}
	for _, w := range bearish {
		if strings.Contains(lower, w) {
			return -10
		}
	}
	return 0
}
