package riskevent

import (
	"context"
	"strings"
	"testing"
)

func TestScorerBounds(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()

	metas := []Metadata{
		{Amount: 1, CustomerID: "c", AccountAgeDays: 365},
		{Amount: 1e9, CustomerID: "c", AccountAgeDays: 1},
		{Amount: 5000, CustomerID: "c"},
	}
	for _, m := range metas {
		score, _, err := s.Score(ctx, "uid_bounds", TypeCredit, m)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if score < 0 || score > MaxScore {
			t.Errorf("score %v out of [0, %v] for %+v", score, MaxScore, m)
		}
	}
}

func TestScorerNewAccountScoresHigher(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()

	young, _, err := s.Score(ctx, "uid_young", TypeCredit, Metadata{Amount: 50, CustomerID: "c", AccountAgeDays: 2})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	old, _, err := s.Score(ctx, "uid_old", TypeCredit, Metadata{Amount: 50, CustomerID: "c", AccountAgeDays: 400})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if young <= old {
		t.Errorf("2-day-old account scored %v, 400-day-old scored %v; want young > old", young, old)
	}
}

func TestScorerVelocityBurst(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()
	meta := Metadata{Amount: 10, CustomerID: "c", AccountAgeDays: 365}

	var first float64
	var last float64
	var lastReasons []string
	for i := 0; i < 12; i++ {
		score, reasons, err := s.Score(ctx, "uid_burst", TypeCredit, meta)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if i == 0 {
			first = score
		}
		last, lastReasons = score, reasons
	}

	if last <= first {
		t.Errorf("burst did not raise score: first %v, last %v", first, last)
	}
	if !containsSubstring(lastReasons, "events in the last") {
		t.Errorf("velocity reason missing from %v", lastReasons)
	}
}

func TestScorerRepeatedPromoSource(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()
	meta := Metadata{Source: "WELCOME10", CustomerID: "c", AccountAgeDays: 365}

	if _, _, err := s.Score(ctx, "uid_promo", TypePromoRedeem, meta); err != nil {
		t.Fatalf("Score: %v", err)
	}
	_, reasons, err := s.Score(ctx, "uid_promo", TypePromoRedeem, meta)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !containsSubstring(reasons, "already redeemed") {
		t.Errorf("repeat redemption reason missing from %v", reasons)
	}
}

func TestScorerLargeAdminAdjustment(t *testing.T) {
	s := NewHeuristicScorer()

	_, reasons, err := s.Score(context.Background(), "uid_admin", TypeAdminAdjust,
		Metadata{Amount: 50000, Source: "billing", AccountAgeDays: 365})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !containsSubstring(reasons, "exceeds review threshold") {
		t.Errorf("admin adjustment reason missing from %v", reasons)
	}
}

func TestScorerColdStartLargeAmount(t *testing.T) {
	s := NewHeuristicScorer()

	score, reasons, err := s.Score(context.Background(), "uid_cold", TypeCredit,
		Metadata{Amount: 10000, CustomerID: "c", AccountAgeDays: 365})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score == 0 {
		t.Error("large first-seen amount scored 0")
	}
	if !containsSubstring(reasons, "no history") {
		t.Errorf("cold-start reason missing from %v", reasons)
	}
}

func TestScorerRespectsCancelledContext(t *testing.T) {
	s := NewHeuristicScorer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := s.Score(ctx, "uid_ctx", TypeCredit, Metadata{Amount: 10, CustomerID: "c"}); err == nil {
		t.Error("Score() with cancelled context returned nil error")
	}
}

func containsSubstring(reasons []string, sub string) bool {
	for _, r := range reasons {
		if strings.Contains(r, sub) {
			return true
		}
	}
	return false
}
