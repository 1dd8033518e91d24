package analytics

import (
	"math"
	"sort"
)

// trendDelta is the relative change between the earliest and latest thirds
// of a series below which the series counts as stable.
const trendDelta = 0.10

// Aggregate reduces a metric series (oldest first) to a Report. An empty
// series yields a zero report with TrendStable so callers need no nil
// checks.
func Aggregate(agentID string, metrics []*Metric) *Report {
	r := &Report{AgentID: agentID, Samples: len(metrics), Trend: TrendStable}
	if len(metrics) == 0 {
		return r
	}

	var rt, sat, eng, errRate []float64
	for _, m := range metrics {
		rt = append(rt, m.ResponseTime)
		sat = append(sat, m.Satisfaction)
		eng = append(eng, m.Engagement)
		errRate = append(errRate, m.ErrorRate)
	}

	r.ResponseTime = describe(rt)
	r.Satisfaction = describe(sat)
	r.Engagement = describe(eng)
	r.ErrorRate = describe(errRate)
	r.SatisfactionSplit = bucket(sat)
	r.Trend = detectTrend(sat)
	r.HealthScore = healthScore(r)
	return r
}

func describe(vals []float64) Stats {
	if len(vals) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Stats{
		Mean:   sum / float64(len(sorted)),
		Median: percentile(sorted, 0.5),
		P95:    percentile(sorted, 0.95),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// percentile expects a sorted slice and uses nearest-rank selection.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func bucket(vals []float64) Distribution {
	var d Distribution
	if len(vals) == 0 {
		return d
	}
	for _, v := range vals {
		switch {
		case v >= 0.9:
			d.Excellent++
		case v >= 0.7:
			d.Good++
		case v >= 0.5:
			d.Average++
		default:
			d.Poor++
		}
	}
	n := float64(len(vals))
	d.Excellent /= n
	d.Good /= n
	d.Average /= n
	d.Poor /= n
	return d
}

// detectTrend compares the mean of the earliest third of the series with
// the latest third. Fewer than three samples is always stable.
func detectTrend(vals []float64) Trend {
	if len(vals) < 3 {
		return TrendStable
	}
	third := len(vals) / 3
	early := mean(vals[:third])
	late := mean(vals[len(vals)-third:])
	if early == 0 {
		if late > 0 {
			return TrendImproving
		}
		return TrendStable
	}
	change := (late - early) / early
	switch {
	case change > trendDelta:
		return TrendImproving
	case change < -trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// healthScore blends satisfaction, engagement and error rate into one
// [0,1] figure. Errors count against health at full weight.
func healthScore(r *Report) float64 {
	score := 0.5*r.Satisfaction.Mean + 0.3*r.Engagement.Mean + 0.2*(1-r.ErrorRate.Mean)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
