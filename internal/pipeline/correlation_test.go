package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"pm25-surveillance/internal/models"
)

func TestCorrelateSeries_PerfectLinear(t *testing.T) {
	x := []float64{12, 48, 25, 60, 33, 18}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2 * v
	}

	res, err := CorrelateSeries(x, y)
	if err != nil {
		t.Fatalf("CorrelateSeries() error = %v", err)
	}
	if math.Abs(res.Pearson-1) > 1e-9 {
		t.Errorf("Pearson = %v, want 1", res.Pearson)
	}
	if res.PearsonP > 1e-6 {
		t.Errorf("PearsonP = %v, want ~0", res.PearsonP)
	}
	if math.Abs(res.Spearman-1) > 1e-9 {
		t.Errorf("Spearman = %v, want 1", res.Spearman)
	}
	if math.Abs(res.Slope-2) > 1e-9 || math.Abs(res.Intercept) > 1e-9 {
		t.Errorf("trendline = %v*x + %v, want 2*x + 0", res.Slope, res.Intercept)
	}
	if math.Abs(res.RSquared-1) > 1e-9 {
		t.Errorf("RSquared = %v, want 1", res.RSquared)
	}
	if !res.Significant {
		t.Error("perfect correlation should be significant")
	}
}

func TestCorrelationPValue(t *testing.T) {
	tests := []struct {
		r    float64
		n    int
		want float64
	}{
		{r: 0.5, n: 10, want: 0.1411},
		{r: 0.8, n: 4, want: 0.2},
		{r: 0, n: 12, want: 1},
	}

	for _, tt := range tests {
		if got := correlationPValue(tt.r, tt.n); math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("correlationPValue(%v, %d) = %v, want %v", tt.r, tt.n, got, tt.want)
		}
	}
}

func TestCorrelate_Errors(t *testing.T) {
	i, f := models.IntPtr, models.FloatPtr
	tests := []struct {
		name string
		rows []models.MonthlyRow
		want error
	}{
		{
			name: "two months",
			rows: []models.MonthlyRow{{VisitCount: i(1), PM25Value: f(10)}, {VisitCount: i(2), PM25Value: f(20)}},
			want: ErrInsufficientData,
		},
		{
			name: "nil sides are ignored",
			rows: []models.MonthlyRow{{VisitCount: i(1), PM25Value: f(10)}, {VisitCount: i(2), PM25Value: f(20)}, {VisitCount: i(3)}, {PM25Value: f(40)}},
			want: ErrInsufficientData,
		},
		{
			name: "constant counts",
			rows: []models.MonthlyRow{{VisitCount: i(5), PM25Value: f(10)}, {VisitCount: i(5), PM25Value: f(20)}, {VisitCount: i(5), PM25Value: f(30)}},
			want: ErrConstantSeries,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Correlate(tt.rows)
			if !errors.Is(err, tt.want) {
				t.Errorf("Correlate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAverageRanks(t *testing.T) {
	got := averageRanks([]float64{30, 10, 20, 20})
	want := []float64{4, 1, 2.5, 2.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("averageRanks() = %v, want %v", got, want)
		}
	}
}

func lagFixture() ([]models.MonthlyCount, []models.PM25Reading) {
	pm := []float64{10, 40, 25, 60, 15, 35, 70, 20, 50, 30, 45, 12}
	start := month(2023, time.January)

	readings := make([]models.PM25Reading, len(pm))
	counts := make([]models.MonthlyCount, len(pm))
	for i, v := range pm {
		readings[i] = models.PM25Reading{Month: start.AddMonths(i), Value: v}
		count := 40
		if i >= 2 {
			count = int(3*pm[i-2]) + 5
		}
		counts[i] = models.MonthlyCount{Month: start.AddMonths(i), Count: count}
	}
	return counts, readings
}

func TestSearchLags_PicksStrongestSignificantLag(t *testing.T) {
	counts, readings := lagFixture()

	res, err := SearchLags(counts, readings, 6)
	if err != nil {
		t.Fatalf("SearchLags() error = %v", err)
	}
	if len(res.Lags) != 7 {
		t.Fatalf("len(Lags) = %d, want 7", len(res.Lags))
	}
	if res.Best == nil || res.Best.Lag != 2 {
		t.Fatalf("Best = %+v, want lag 2", res.Best)
	}
	if !res.BestSignificant {
		t.Error("BestSignificant = false, want true")
	}
	if math.Abs(res.Best.Result.Pearson-1) > 1e-9 {
		t.Errorf("Pearson at lag 2 = %v, want 1", res.Best.Result.Pearson)
	}
	for _, l := range res.Lags {
		if l.Skipped {
			t.Errorf("lag %d unexpectedly skipped: %s", l.Lag, l.Reason)
		}
		if l.Result != nil && l.Result.N != len(readings)-l.Lag {
			t.Errorf("lag %d used %d months, want %d", l.Lag, l.Result.N, len(readings)-l.Lag)
		}
	}
}

func TestSearchLags_NotSignificant(t *testing.T) {
	start := month(2024, time.January)
	pm := []float64{20, 50, 30, 40}
	visits := []int{10, 12, 11, 13}

	var counts []models.MonthlyCount
	var readings []models.PM25Reading
	for i := range pm {
		readings = append(readings, models.PM25Reading{Month: start.AddMonths(i), Value: pm[i]})
		counts = append(counts, models.MonthlyCount{Month: start.AddMonths(i), Count: visits[i]})
	}

	res, err := SearchLags(counts, readings, 0)
	if err != nil {
		t.Fatalf("SearchLags() error = %v", err)
	}
	if res.Best == nil || res.BestSignificant {
		t.Fatalf("Best = %+v, BestSignificant = %v; want a non-significant best", res.Best, res.BestSignificant)
	}
	if math.Abs(res.Best.Result.Pearson-0.8) > 1e-9 {
		t.Errorf("Pearson = %v, want 0.8", res.Best.Result.Pearson)
	}
}

func TestSearchLags_InsufficientData(t *testing.T) {
	start := month(2024, time.January)
	counts := []models.MonthlyCount{{Month: start, Count: 3}, {Month: start.AddMonths(1), Count: 5}}
	readings := []models.PM25Reading{{Month: start, Value: 10}, {Month: start.AddMonths(1), Value: 30}}

	res, err := SearchLags(counts, readings, 2)
	if err != nil {
		t.Fatalf("SearchLags() error = %v", err)
	}
	if res.Best != nil {
		t.Errorf("Best = %+v, want nil", res.Best)
	}
	for _, l := range res.Lags {
		if !l.Skipped {
			t.Errorf("lag %d should be skipped", l.Lag)
		}
	}
	if res.Message != ErrInsufficientData.Error() {
		t.Errorf("Message = %q", res.Message)
	}

	if _, err := SearchLags(counts, readings, 7); err == nil {
		t.Error("SearchLags() with maxLag 7 should fail")
	}
}
