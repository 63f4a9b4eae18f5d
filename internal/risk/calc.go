package risk

import (
	"math"
	"sort"
)

// Pure, stateless risk analytics over historical return and equity series.
// All functions are deterministic and match their closed-form definitions;
// they operate on float64 because the inputs are statistical series, not
// ledger money.

// HistoricalVaR returns the empirical quantile of the return series at the
// (1-confidence) percentile. The result is a signed return; a loss shows up
// negative.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ParametricVaR returns mean - z(confidence)*stddev.
func ParametricVaR(mean, stddev, confidence float64) float64 {
	return mean - zScore(confidence)*stddev
}

// Volatility returns the sample standard deviation (N-1 denominator).
func Volatility(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	m := mean(returns)
	var sum float64
	for _, r := range returns {
		d := r - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// EWMAVolatility returns the exponentially weighted volatility
// v_t = lambda*v_{t-1} + (1-lambda)*r_t^2, seeded with the first squared
// return. The conventional lambda is 0.94.
func EWMAVolatility(returns []float64, lambda float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := returns[0] * returns[0]
	for _, r := range returns[1:] {
		v = lambda*v + (1-lambda)*r*r
	}
	return math.Sqrt(v)
}

// Correlation returns the Pearson correlation of two equal-length series.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	sx := Volatility(x)
	sy := Volatility(y)
	if sx == 0 || sy == 0 {
		return 0
	}
	return covariance(x, y) / (sx * sy)
}

// Beta returns covariance(asset, market) / variance(market).
func Beta(assetReturns, marketReturns []float64) float64 {
	if len(assetReturns) != len(marketReturns) || len(marketReturns) < 2 {
		return 0
	}
	mv := Volatility(marketReturns)
	if mv == 0 {
		return 0
	}
	return covariance(assetReturns, marketReturns) / (mv * mv)
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity curve,
// normalized by the peak.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CurrentDrawdown returns the decline of the latest value from the running
// peak, normalized by the peak.
func CurrentDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}
	return (peak - values[len(values)-1]) / peak
}

// SharpeRatio returns mean return over sample volatility.
func SharpeRatio(returns []float64) float64 {
	vol := Volatility(returns)
	if vol == 0 {
		return 0
	}
	return mean(returns) / vol
}

// KellyCriterion returns winRate - (1-winRate)/(avgWin/avgLoss).
func KellyCriterion(winRate, avgWin, avgLoss float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 {
		return 0
	}
	return winRate - (1-winRate)/(avgWin/avgLoss)
}

// OptimalPositionSize returns accountSize*riskPerTrade/stopLossDistance.
func OptimalPositionSize(accountSize, riskPerTrade, stopLossDistance float64) float64 {
	if stopLossDistance <= 0 {
		return 0
	}
	return accountSize * riskPerTrade / stopLossDistance
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// covariance uses the sample (N-1) denominator, matching Volatility.
func covariance(x, y []float64) float64 {
	mx := mean(x)
	my := mean(y)
	var sum float64
	for i := range x {
		sum += (x[i] - mx) * (y[i] - my)
	}
	return sum / float64(len(x)-1)
}

// zScore returns the standard normal quantile for the given confidence
// level. Common levels are tabulated; anything else falls back to the
// Acklam rational approximation of the inverse normal CDF.
func zScore(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 1.2816
	case 0.95:
		return 1.6449
	case 0.99:
		return 2.3263
	}
	return inverseNormalCDF(confidence)
}

func inverseNormalCDF(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const pLow = 0.02425
	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p <= 1-pLow:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
