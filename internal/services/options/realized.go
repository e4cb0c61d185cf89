package options

import "math"

// realizedVolLookbackBars caps how much daily history feeds the realized
// volatility windows
const realizedVolLookbackBars = 90

// realizedVolWindows are the trailing log-return windows, in days
var realizedVolWindows = []int{7, 14, 21}

// realizedVolMap computes annualized realized volatility per window from
// daily closes given most-recent-first. A window needs window+1 prices
// and at least two valid log returns; otherwise its entry is nil.
func realizedVolMap(closes []float64) map[int]*float64 {
	// chronological order
	prices := make([]float64, len(closes))
	for i, c := range closes {
		prices[len(closes)-1-i] = c
	}

	volMap := make(map[int]*float64, len(realizedVolWindows))
	for _, window := range realizedVolWindows {
		if len(prices) < window+1 {
			volMap[window] = nil
			continue
		}
		windowPrices := prices[len(prices)-(window+1):]

		var returns []float64
		for i := 0; i < len(windowPrices)-1; i++ {
			if windowPrices[i] > 0 && windowPrices[i+1] > 0 {
				returns = append(returns, math.Log(windowPrices[i+1]/windowPrices[i]))
			}
		}
		if len(returns) < 2 {
			volMap[window] = nil
			continue
		}
		vol := sampleStdDev(returns) * math.Sqrt(252)
		volMap[window] = &vol
	}
	return volMap
}

// selectRealizedVol picks the window nearest the horizon: up to 7 days
// the 7-day window, up to 14 the 14-day, else the 21-day
func selectRealizedVol(horizon int, volMap map[int]*float64) *float64 {
	switch {
	case horizon <= 7:
		return volMap[7]
	case horizon <= 14:
		return volMap[14]
	default:
		return volMap[21]
	}
}

// sampleStdDev is the n-1 denominator standard deviation
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
