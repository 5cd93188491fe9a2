package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"pm25-surveillance/internal/models"
)

const (
	// MinCorrelationSamples is the fewest overlapping months a correlation is computed for
	MinCorrelationSamples = 3
	// MaxLagMonths bounds the lag search
	MaxLagMonths = 6
	// SignificanceLevel is the p-value threshold for reporting a finding
	SignificanceLevel = 0.05
)

var (
	// ErrInsufficientData is returned when fewer than MinCorrelationSamples months overlap
	ErrInsufficientData = errors.New("insufficient data: at least 3 overlapping months are required")
	// ErrConstantSeries is returned when either series has zero variance
	ErrConstantSeries = errors.New("correlation undefined: one of the series is constant")
)

// CorrelationResult holds the association between monthly visit counts (y)
// and PM2.5 concentration (x)
type CorrelationResult struct {
	N           int     `json:"n"`
	Pearson     float64 `json:"pearson_r"`
	PearsonP    float64 `json:"pearson_p"`
	Spearman    float64 `json:"spearman_rho"`
	SpearmanP   float64 `json:"spearman_p"`
	Slope       float64 `json:"slope"`
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	Significant bool    `json:"significant"`
}

// Correlate computes Pearson and Spearman correlation plus the OLS trendline
// over rows that carry both a visit count and a PM2.5 value
func Correlate(rows []models.MonthlyRow) (*CorrelationResult, error) {
	x := make([]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.VisitCount == nil || r.PM25Value == nil {
			continue
		}
		x = append(x, *r.PM25Value)
		y = append(y, float64(*r.VisitCount))
	}
	return CorrelateSeries(x, y)
}

// CorrelateSeries is Correlate over paired samples
func CorrelateSeries(x, y []float64) (*CorrelationResult, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("series length mismatch: %d != %d", len(x), len(y))
	}
	n := len(x)
	if n < MinCorrelationSamples {
		return nil, ErrInsufficientData
	}
	if isConstant(x) || isConstant(y) {
		return nil, ErrConstantSeries
	}

	pearson := clampUnit(stat.Correlation(x, y, nil))
	spearman := clampUnit(stat.Correlation(averageRanks(x), averageRanks(y), nil))
	intercept, slope := stat.LinearRegression(x, y, nil, false)
	rSquared := stat.RSquared(x, y, nil, intercept, slope)

	result := &CorrelationResult{
		N:         n,
		Pearson:   pearson,
		PearsonP:  correlationPValue(pearson, n),
		Spearman:  spearman,
		SpearmanP: correlationPValue(spearman, n),
		Slope:     slope,
		Intercept: intercept,
		RSquared:  rSquared,
	}
	result.Significant = result.PearsonP < SignificanceLevel
	return result, nil
}

// correlationPValue is the two-sided p-value of r under H0: rho = 0,
// using t = r*sqrt((n-2)/(1-r^2)) with n-2 degrees of freedom
func correlationPValue(r float64, n int) float64 {
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	df := float64(n - 2)
	t := math.Abs(r) * math.Sqrt(df/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(t)
	if p > 1 {
		p = 1
	}
	return p
}

// averageRanks returns 1-based ranks, ties receiving the mean of their positions
func averageRanks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		rank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = rank
		}
		i = j + 1
	}
	return ranks
}

func isConstant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// LagResult is the correlation at a single lag
type LagResult struct {
	Lag     int                `json:"lag"`
	Result  *CorrelationResult `json:"result,omitempty"`
	Skipped bool               `json:"skipped"`
	Reason  string             `json:"reason,omitempty"`
}

// LagSearchResult is the outcome of a lag search
type LagSearchResult struct {
	Lags []LagResult `json:"lags"`
	// Best is nil when every lag was skipped
	Best            *LagResult `json:"best,omitempty"`
	BestSignificant bool       `json:"best_significant"`
	Message         string     `json:"message"`
}

// SearchLags correlates monthly counts against PM2.5 shifted by 0..maxLag
// months. Among significant lags the largest |r| wins; when none is
// significant the overall largest |r| is reported and flagged as such.
func SearchLags(counts []models.MonthlyCount, readings []models.PM25Reading, maxLag int) (*LagSearchResult, error) {
	if err := ValidateLag(maxLag, MaxLagMonths); err != nil {
		return nil, err
	}

	out := &LagSearchResult{Lags: make([]LagResult, 0, maxLag+1)}
	for lag := 0; lag <= maxLag; lag++ {
		rows := Join(counts, ShiftReadings(readings, lag), JoinInner)
		res, err := Correlate(rows)
		if err != nil {
			out.Lags = append(out.Lags, LagResult{Lag: lag, Skipped: true, Reason: err.Error()})
			continue
		}
		out.Lags = append(out.Lags, LagResult{Lag: lag, Result: res})
	}

	var best, bestSignificant *LagResult
	for i := range out.Lags {
		l := &out.Lags[i]
		if l.Skipped {
			continue
		}
		if best == nil || math.Abs(l.Result.Pearson) > math.Abs(best.Result.Pearson) {
			best = l
		}
		if l.Result.Significant && (bestSignificant == nil || math.Abs(l.Result.Pearson) > math.Abs(bestSignificant.Result.Pearson)) {
			bestSignificant = l
		}
	}

	switch {
	case bestSignificant != nil:
		out.Best = bestSignificant
		out.BestSignificant = true
		out.Message = fmt.Sprintf("strongest significant association at lag %d months (r=%.3f, p=%.4f)",
			bestSignificant.Lag, bestSignificant.Result.Pearson, bestSignificant.Result.PearsonP)
	case best != nil:
		out.Best = best
		out.Message = fmt.Sprintf("no lag reached p < %.2f; best observed at lag %d months (r=%.3f, p=%.4f) is not significant",
			SignificanceLevel, best.Lag, best.Result.Pearson, best.Result.PearsonP)
	default:
		out.Message = ErrInsufficientData.Error()
	}
	return out, nil
}
