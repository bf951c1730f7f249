package lockout

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Ceiling: 5, Cooldown: 15 * time.Minute}

	tests := []struct {
		name        string
		retries     int
		lastFailure time.Time
		wantAllowed bool
	}{
		{"zero retries", 0, time.Time{}, true},
		{"below ceiling", 4, now.Add(-time.Second), true},
		{"at ceiling inside cooldown", 5, now.Add(-time.Minute), false},
		{"above ceiling inside cooldown", 9, now.Add(-14 * time.Minute), false},
		{"at ceiling cooldown elapsed", 5, now.Add(-16 * time.Minute), true},
		{"at ceiling exactly at unlock", 5, now.Add(-15 * time.Minute), true},
		{"at ceiling but no failure timestamp", 5, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.retries, tt.lastFailure, now, policy)
			if d.Allowed != tt.wantAllowed {
				t.Fatalf("Decide(%d, %v) allowed = %v, want %v", tt.retries, tt.lastFailure, d.Allowed, tt.wantAllowed)
			}
			if !d.Allowed && d.Remaining <= 0 {
				t.Fatalf("denied decision must carry remaining cooldown, got %v", d.Remaining)
			}
			if d.Allowed && d.Remaining != 0 {
				t.Fatalf("allowed decision must not carry cooldown, got %v", d.Remaining)
			}
		})
	}
}

func TestDecideDisabledCeiling(t *testing.T) {
	d := Decide(100, time.Now(), time.Now(), Policy{Ceiling: 0, Cooldown: time.Hour})
	if !d.Allowed {
		t.Fatal("zero ceiling must disable lockout")
	}
}

func TestDecideRemainingShrinks(t *testing.T) {
	policy := Policy{Ceiling: 3, Cooldown: 10 * time.Minute}
	failedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	early := Decide(3, failedAt, failedAt.Add(time.Minute), policy)
	late := Decide(3, failedAt, failedAt.Add(9*time.Minute), policy)

	if early.Allowed || late.Allowed {
		t.Fatal("both checks should be denied")
	}
	if late.Remaining >= early.Remaining {
		t.Fatalf("remaining cooldown should shrink over time: early=%v late=%v", early.Remaining, late.Remaining)
	}
}
