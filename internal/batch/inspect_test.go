package batch

import (
	"testing"
	"time"
)

func TestInspect(t *testing.T) {
	now := time.Unix(1000, 0)
	pending := []Stats{
		{Session: "fresh", Count: 2, FirstArrival: now.Add(-time.Second), LastArrival: now},
		{Session: "old", Count: 1, FirstArrival: now.Add(-time.Hour), LastArrival: now.Add(-time.Hour)},
		{Session: "big", Count: 60, FirstArrival: now.Add(-time.Minute), LastArrival: now},
		{Session: "both", Count: 100, FirstArrival: now.Add(-2 * time.Hour), LastArrival: now},
	}

	tests := []struct {
		name   string
		limits Limits
		want   []Anomaly
	}{
		{
			name:   "disabled",
			limits: Limits{},
			want:   nil,
		},
		{
			name:   "age_only",
			limits: Limits{MaxAge: 30 * time.Minute},
			want: []Anomaly{
				{Kind: AnomalyMaxAge, Session: "both", Count: 100, Age: 2 * time.Hour},
				{Kind: AnomalyMaxAge, Session: "old", Count: 1, Age: time.Hour},
			},
		},
		{
			name:   "items_only",
			limits: Limits{MaxItems: 50},
			want: []Anomaly{
				{Kind: AnomalyMaxItems, Session: "big", Count: 60, Age: time.Minute},
				{Kind: AnomalyMaxItems, Session: "both", Count: 100, Age: 2 * time.Hour},
			},
		},
		{
			name:   "both_limits",
			limits: Limits{MaxAge: 30 * time.Minute, MaxItems: 50},
			want: []Anomaly{
				{Kind: AnomalyMaxItems, Session: "big", Count: 60, Age: time.Minute},
				{Kind: AnomalyMaxAge, Session: "both", Count: 100, Age: 2 * time.Hour},
				{Kind: AnomalyMaxItems, Session: "both", Count: 100, Age: 2 * time.Hour},
				{Kind: AnomalyMaxAge, Session: "old", Count: 1, Age: time.Hour},
			},
		},
		{
			// Limits are exclusive: a batch exactly at the limit is fine
			name:   "at_limit",
			limits: Limits{MaxAge: time.Hour * 2, MaxItems: 100},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Inspect(pending, now, tt.limits)
			if len(got) != len(tt.want) {
				t.Fatalf("Inspect() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Inspect()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
