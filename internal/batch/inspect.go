package batch

import (
	"sort"
	"time"
)

// Limits bound how large or old an open batch may grow before it is reported.
// A zero field disables that check.
type Limits struct {
	MaxAge   time.Duration
	MaxItems int
}

// AnomalyKind names the limit a batch exceeded.
type AnomalyKind string

const (
	AnomalyMaxAge   AnomalyKind = "max_age_exceeded"
	AnomalyMaxItems AnomalyKind = "max_items_exceeded"
)

// Anomaly reports one open batch past a limit.
type Anomaly struct {
	Kind    AnomalyKind
	Session SessionKey
	Count   int
	Age     time.Duration
}

// Inspect returns an anomaly for every batch past a limit, ordered by session.
// It only reports; draining stays with the caller.
func Inspect(pending []Stats, now time.Time, limits Limits) []Anomaly {
	var anomalies []Anomaly
	for _, s := range pending {
		age := s.Age(now)
		if limits.MaxAge > 0 && age > limits.MaxAge {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyMaxAge, Session: s.Session, Count: s.Count, Age: age})
		}
		if limits.MaxItems > 0 && s.Count > limits.MaxItems {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyMaxItems, Session: s.Session, Count: s.Count, Age: age})
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Session < anomalies[j].Session
	})
	return anomalies
}
