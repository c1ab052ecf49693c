package aftershock

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Factor is one contribution to the aftershock probability.
// A factor with zero points is omitted from the analysis.
type Factor struct {
	Points float64
	Reason string
}

// MagnitudeFactor scores the main event's total acceleration. Exactly one
// tier always applies.
func MagnitudeFactor(total float64) Factor {
	switch {
	case total > 20:
		return Factor{40, "high magnitude main event"}
	case total > 15:
		return Factor{25, "moderate magnitude main event"}
	default:
		return Factor{10, "low magnitude main event"}
	}
}

// RecentActivityFactor scores the number of earthquakes in the seven days
// before the main event.
func RecentActivityFactor(count int) Factor {
	switch {
	case count > 2:
		return Factor{30, fmt.Sprintf("high recent seismic activity: %d events", count)}
	case count > 0:
		return Factor{15, fmt.Sprintf("moderate recent seismic activity: %d events", count)}
	default:
		return Factor{}
	}
}

// MeanIntervalDays returns the mean gap in days between consecutive events
// ordered newest first. It returns +Inf when fewer than two events exist.
func MeanIntervalDays(events []models.SeismicEvent) float64 {
	if len(events) < 2 {
		return math.Inf(1)
	}
	var total float64
	for i := 1; i < len(events); i++ {
		gap := events[i-1].Timestamp.Sub(events[i].Timestamp)
		total += math.Abs(gap.Hours() / 24)
	}
	return total / float64(len(events)-1)
}

// HistoricalPatternFactor scores how often similar earthquakes recurred.
func HistoricalPatternFactor(meanIntervalDays float64) Factor {
	switch {
	case meanIntervalDays < 30:
		return Factor{20, "historical pattern indicates high frequency"}
	case meanIntervalDays < 90:
		return Factor{10, "historical pattern indicates moderate frequency"}
	default:
		return Factor{}
	}
}

// RecencyFactor scores the time elapsed between the main event and evaluation.
func RecencyFactor(elapsed time.Duration) Factor {
	switch {
	case elapsed < 24*time.Hour:
		return Factor{15, "event very recent (< 24 hours)"}
	case elapsed < 72*time.Hour:
		return Factor{8, "recent event (< 72 hours)"}
	default:
		return Factor{}
	}
}

// Combine sums the factors, clamps the total to [0, 100] and keeps the
// reasons of nonzero contributions in order.
func Combine(factors ...Factor) (float64, []string) {
	var sum float64
	reasons := []string{}
	for _, f := range factors {
		if f.Points == 0 {
			continue
		}
		sum += f.Points
		reasons = append(reasons, f.Reason)
	}
	return math.Max(0, math.Min(100, sum)), reasons
}
