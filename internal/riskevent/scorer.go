package riskevent

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// windowEntry records one scored event for sliding-window analysis.
type windowEntry struct {
	eventType EventType
	amount    float64
	source    string
	at        time.Time
}

const (
	maxWindowSize  = 1000
	windowDuration = 24 * time.Hour

	weightAmount   = 0.35
	weightVelocity = 0.25
	weightAge      = 0.20
	weightPattern  = 0.20
)

// HeuristicScorer scores candidate events using in-memory sliding windows
// per principal. It is a self-contained stand-in for an external scoring
// service: fast, deterministic given its window state, and explains every
// contribution with a reason string.
type HeuristicScorer struct {
	windows sync.Map // map[string]*uidWindow
}

type uidWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// NewHeuristicScorer creates an empty scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score evaluates a candidate event. The computation is pure in-memory; the
// ctx check exists so a caller-imposed timeout still short-circuits.
func (s *HeuristicScorer) Score(ctx context.Context, uid string, eventType EventType, meta Metadata) (float64, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	w := s.getWindow(uid)
	w.mu.Lock()
	entries := s.liveEntries(w)
	w.mu.Unlock()

	var reasons []string
	amount := math.Abs(meta.Amount)

	fAmount, r := amountFactor(entries, amount)
	reasons = append(reasons, r...)

	fVelocity, r := velocityFactor(entries)
	reasons = append(reasons, r...)

	fAge, r := accountAgeFactor(meta.AccountAgeDays)
	reasons = append(reasons, r...)

	fPattern, r := patternFactor(entries, eventType, meta)
	reasons = append(reasons, r...)

	score := (fAmount*weightAmount +
		fVelocity*weightVelocity +
		fAge*weightAge +
		fPattern*weightPattern) * MaxScore

	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	score = math.Round(score*10) / 10

	s.record(w, windowEntry{
		eventType: eventType,
		amount:    amount,
		source:    meta.Source,
		at:        time.Now(),
	})

	return score, reasons, nil
}

func (s *HeuristicScorer) getWindow(uid string) *uidWindow {
	v, _ := s.windows.LoadOrStore(uid, &uidWindow{})
	return v.(*uidWindow)
}

// liveEntries returns non-expired entries (caller holds the lock).
func (s *HeuristicScorer) liveEntries(w *uidWindow) []windowEntry {
	cutoff := time.Now().Add(-windowDuration)
	out := make([]windowEntry, 0, len(w.entries))
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (s *HeuristicScorer) record(w *uidWindow, e windowEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, e)

	cutoff := time.Now().Add(-windowDuration)
	start := 0
	for start < len(w.entries) && w.entries[start].at.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowSize {
		w.entries = w.entries[len(w.entries)-maxWindowSize:]
	}
}

// amountFactor compares the candidate amount to the 24h average.
// 10x the average = 0.5, 100x = 1.0, log10 scaling. With no history, large
// absolute amounts still score: $1k = 0.5, $10k+ = 1.0.
func amountFactor(entries []windowEntry, amount float64) (float64, []string) {
	if amount <= 0 {
		return 0, nil
	}

	var total float64
	for _, e := range entries {
		total += e.amount
	}

	if len(entries) < 2 || total <= 0 {
		// Cold start: scale on absolute amount alone.
		if amount < 100 {
			return 0, nil
		}
		f := math.Min(math.Log10(amount/100)/2, 1.0)
		if f <= 0 {
			return 0, nil
		}
		return f, []string{fmt.Sprintf("large amount %.2f with no history", amount)}
	}

	avg := total / float64(len(entries))
	ratio := amount / avg
	if ratio <= 1.0 {
		return 0, nil
	}
	f := math.Min(math.Log10(ratio)/2, 1.0)
	if f < 0.05 {
		return 0, nil
	}
	return f, []string{fmt.Sprintf("amount %.2f is %.1fx the 24h average", amount, ratio)}
}

// velocityFactor scores bursts of events in a short interval.
// 3 events in the last 10 minutes = 0.3, 10+ = 1.0.
func velocityFactor(entries []windowEntry) (float64, []string) {
	tenMinAgo := time.Now().Add(-10 * time.Minute)
	recent := 0
	for _, e := range entries {
		if e.at.After(tenMinAgo) {
			recent++
		}
	}
	if recent < 3 {
		return 0, nil
	}
	f := math.Min(float64(recent)/10, 1.0)
	return f, []string{fmt.Sprintf("%d events in the last 10 minutes", recent)}
}

// accountAgeFactor penalizes very new accounts. Unknown age (0) is treated
// as unverified, not brand-new.
func accountAgeFactor(days int) (float64, []string) {
	switch {
	case days <= 0:
		return 0.3, []string{"account age unknown"}
	case days < 7:
		return 0.8, []string{fmt.Sprintf("account is %d days old", days)}
	case days < 30:
		return 0.4, []string{fmt.Sprintf("account is %d days old", days)}
	default:
		return 0, nil
	}
}

// patternFactor applies per-type heuristics: repeated promo source
// redemption and oversized admin adjustments.
func patternFactor(entries []windowEntry, eventType EventType, meta Metadata) (float64, []string) {
	switch eventType {
	case TypePromoRedeem:
		if meta.Source == "" {
			return 0, nil
		}
		seen := 0
		for _, e := range entries {
			if e.eventType == TypePromoRedeem && e.source == meta.Source {
				seen++
			}
		}
		if seen == 0 {
			return 0, nil
		}
		f := math.Min(0.4+0.2*float64(seen), 1.0)
		return f, []string{fmt.Sprintf("promo %q already redeemed %d time(s) in 24h", meta.Source, seen)}
	case TypeAdminAdjust:
		amount := math.Abs(meta.Amount)
		if amount < 1000 {
			return 0, nil
		}
		f := math.Min(math.Log10(amount/1000)/2+0.5, 1.0)
		return f, []string{fmt.Sprintf("admin adjustment of %.2f exceeds review threshold", meta.Amount)}
	default:
		return 0, nil
	}
}
