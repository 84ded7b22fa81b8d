// Package dto defines the JSON shapes of the HTTP API. Task snapshots
// mirror the job records field for field so pollers see the same keys
// from the first queued response through the terminal one.
package dto

import (
	"math"
	"time"

	"github.com/lightencc/mistakebook/internal/session"
)

// TimeString renders a task timestamp, keeping the empty string for
// instants that have not happened yet.
func TimeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(session.TimeLayout)
}

// Percent converts a 0..1 progress fraction to a percentage with one
// decimal place.
func Percent(progress float64) float64 {
	return math.Round(progress*1000) / 10
}
