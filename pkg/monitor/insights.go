package monitor

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/econeura/usage-guardian/pkg/model"
)

const (
	topShares          = 5
	limitIncreaseAbove = 0.8
	percentageOfWhole  = 100
)

// Insights projects the tenant's current period from its average window
// usage and fits a least-squares trend over the closed windows plus the open
// one. ok is false when the tenant has no effective policy.
func (m *Monitor) Insights(tenantID string) (model.Insights, bool) {
	v, ok := m.observe(tenantID)
	if !ok {
		return model.Insights{}, false
	}

	pol := v.policy
	u := v.ledger.usage

	// Windows are counted in time, clipped to the period, so a weekly window
	// that straddles a month boundary counts only for its days inside it.
	periodStart, periodEnd := model.PeriodBounds(pol.Period, v.now)
	windowStart, windowEnd := model.PeriodBounds(pol.Window, v.now)
	windowDur := float64(windowEnd.Sub(windowStart))
	if windowEnd.After(periodEnd) {
		windowEnd = periodEnd
	}

	total := float64(periodEnd.Sub(periodStart)) / windowDur
	elapsed := float64(windowEnd.Sub(periodStart)) / windowDur

	avg := u.CumulativeValue / elapsed
	projected := avg * total

	values := make([]float64, 0, len(v.ledger.history)+1)
	for _, p := range v.ledger.history {
		values = append(values, p.Value)
	}
	values = append(values, u.WindowedValue)

	in := model.Insights{
		TenantID:             tenantID,
		Fraction:             pol.Fraction(u.CumulativeValue),
		CumulativeValue:      u.CumulativeValue,
		HardLimit:            pol.HardLimit,
		AverageWindowUsage:   avg,
		ProjectedPeriodUsage: projected,
		ProjectedOverage:     max(0, projected-pol.HardLimit),
		WindowsRemaining:     int(math.Ceil(float64(periodEnd.Sub(windowEnd)) / windowDur)),
		TrendSlope:           slope(values),
		TopModels:            top(u.ByModel, u.CumulativeValue, topShares),
		TopUsers:             top(u.ByUser, u.CumulativeValue, topShares),
		TopFeatures:          top(u.ByFeature, u.CumulativeValue, topShares),
	}

	if in.Fraction > limitIncreaseAbove {
		in.Recommendations = append(in.Recommendations, model.Recommendation{
			Type:        model.RecommendLimitIncrease,
			Priority:    model.SeverityHigh,
			Title:       "Consider raising the usage limit",
			Description: fmt.Sprintf("Usage is at %.1f%% of the limit with %d %s windows left in the period.", in.Fraction*percentageOfWhole, in.WindowsRemaining, pol.Window),
		})
	}

	perWindow := pol.WindowLimit
	if perWindow == 0 {
		perWindow = pol.HardLimit / total
	}
	if perWindow > 0 && avg > perWindow {
		in.Recommendations = append(in.Recommendations, model.Recommendation{
			Type:        model.RecommendUsageReduction,
			Priority:    model.SeverityMedium,
			Title:       "Reduce usage to stay within budget",
			Description: fmt.Sprintf("Average %s usage %.2f exceeds the sustainable %.2f.", pol.Window, avg, perWindow),
		})
	}

	return in, true
}

// slope is the least-squares slope of values against their index.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sx, sy, sxy, sxx float64
	for i, y := range values {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

// top returns the n largest entries of m, largest first, as shares of whole.
func top(m map[string]float64, whole float64, n int) []model.UsageShare {
	if len(m) == 0 {
		return nil
	}

	out := make([]model.UsageShare, 0, len(m))
	for k, v := range m {
		share := model.UsageShare{Key: k, Usage: v}
		if whole > 0 {
			share.Percentage = v / whole * percentageOfWhole
		}
		out = append(out, share)
	}
	slices.SortFunc(out, func(a, b model.UsageShare) int {
		if c := cmp.Compare(b.Usage, a.Usage); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
