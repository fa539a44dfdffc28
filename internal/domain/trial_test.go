package domain

import (
	"testing"
	"time"
)

// =============================================================================
// Trial Lifecycle Resolver Tests
// =============================================================================

func TestResolveTrialPhase_Boundaries(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		wantPhase TrialPhase
	}{
		{"well before trial end", end.Add(-10 * 24 * time.Hour), TrialPhaseActive},
		{"one second before end", end.Add(-time.Second), TrialPhaseActive},
		// Ties resolve to the later, more restrictive state.
		{"exactly at trial end", end, TrialPhaseGrace},
		{"one second into grace", end.Add(time.Second), TrialPhaseGrace},
		{"one second before grace end", end.Add(GraceDuration - time.Second), TrialPhaseGrace},
		{"exactly at grace end", end.Add(GraceDuration), TrialPhaseExpired},
		{"long after grace end", end.Add(90 * 24 * time.Hour), TrialPhaseExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTrialPhase(&end, tt.now)
			if got.Phase != tt.wantPhase {
				t.Errorf("phase = %q, want %q", got.Phase, tt.wantPhase)
			}
		})
	}
}

func TestResolveTrialPhase_DaysRemaining(t *testing.T) {
	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// 1 day into grace leaves 2 whole grace days.
	got := ResolveTrialPhase(&end, end.Add(24*time.Hour))
	if got.Phase != TrialPhaseGrace {
		t.Fatalf("phase = %q, want grace_period", got.Phase)
	}
	if got.GraceDaysRemaining != 2 {
		t.Errorf("GraceDaysRemaining = %d, want 2", got.GraceDaysRemaining)
	}

	// Partial days round up.
	got = ResolveTrialPhase(&end, end.Add(-36*time.Hour))
	if got.Phase != TrialPhaseActive {
		t.Fatalf("phase = %q, want active", got.Phase)
	}
	if got.TrialDaysRemaining != 2 {
		t.Errorf("TrialDaysRemaining = %d, want 2 (1.5 days rounds up)", got.TrialDaysRemaining)
	}

	// 4 days past trial end is fully expired.
	got = ResolveTrialPhase(&end, end.Add(4*24*time.Hour))
	if got.Phase != TrialPhaseExpired {
		t.Fatalf("phase = %q, want expired", got.Phase)
	}
	if got.GraceDaysRemaining != 0 {
		t.Errorf("GraceDaysRemaining = %d, want 0", got.GraceDaysRemaining)
	}
}

func TestResolveTrialPhase_NilTrialEnd(t *testing.T) {
	got := ResolveTrialPhase(nil, time.Now())
	if got.Phase != TrialPhaseActive {
		t.Errorf("nil trialEndsAt should bypass the resolver, got %q", got.Phase)
	}
}

// TestResolveTrialPhase_Monotonic verifies that for a fixed trial end the
// phase never moves backwards as now advances.
func TestResolveTrialPhase_Monotonic(t *testing.T) {
	end := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	rank := map[TrialPhase]int{
		TrialPhaseActive:  0,
		TrialPhaseGrace:   1,
		TrialPhaseExpired: 2,
	}

	prev := -1
	for now := end.Add(-20 * 24 * time.Hour); now.Before(end.Add(20 * 24 * time.Hour)); now = now.Add(37 * time.Minute) {
		got := ResolveTrialPhase(&end, now)
		if rank[got.Phase] < prev {
			t.Fatalf("phase regressed to %q at %v", got.Phase, now)
		}
		prev = rank[got.Phase]
	}
}
