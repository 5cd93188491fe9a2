package pipeline

import (
	"testing"
	"time"

	"pm25-surveillance/internal/models"
)

func fixedParser() *DateParser {
	p := NewDateParser(DefaultEraPolicy(), time.UTC)
	p.Now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestEraPolicy_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		policy  EraPolicy
		year    int
		current int
		want    int
	}{
		{"buddhist era year", DefaultEraPolicy(), 2567, 2026, 2024},
		{"gregorian year", DefaultEraPolicy(), 2024, 2026, 2024},
		{"near future stays", DefaultEraPolicy(), 2070, 2026, 2070},
		{"exactly at threshold stays", DefaultEraPolicy(), 2076, 2026, 2076},
		{"just past threshold converts", DefaultEraPolicy(), 2077, 2026, 1534},
		{"disabled offset", EraPolicy{Offset: 0, ThresholdYears: 50}, 2567, 2026, 2567},
		{"wide threshold keeps year", EraPolicy{Offset: 543, ThresholdYears: 600}, 2567, 2026, 2567},
		{"year past a 400 year threshold converts", EraPolicy{Offset: 543, ThresholdYears: 400}, 2567, 2026, 2024},
		{"narrow threshold converts", EraPolicy{Offset: 543, ThresholdYears: 10}, 2037, 2026, 1494},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Normalize(tt.year, tt.current); got != tt.want {
				t.Errorf("Normalize(%d, %d) = %d, want %d", tt.year, tt.current, got, tt.want)
			}
		})
	}
}

func TestDateParser_ParseDate(t *testing.T) {
	p := fixedParser()

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-01-15", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "2024-01-15 08:30:00", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "15/01/2024", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "5.3.2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{in: "15-1-2567", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "29/02/2567", want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{in: "15/1/67", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "15/1/24", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{in: "29/02/2023", wantErr: true},
		{in: "31/04/2024", wantErr: true},
		{in: "15/13/2024", wantErr: true},
		{in: "not a date", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := p.ParseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDateParser_ParseTimestamp(t *testing.T) {
	p := fixedParser()

	got, err := p.ParseTimestamp("19/10/2026 14:05:30")
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	want := time.Date(2026, 10, 19, 14, 5, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseTimestamp() = %v, want %v", got, want)
	}

	if _, err := p.ParseTimestamp("19/10/2026 25:00"); err == nil {
		t.Error("ParseTimestamp() should reject hour 25")
	}
}

func TestDateParser_ParseMonth(t *testing.T) {
	p := fixedParser()
	jan2024 := models.MonthKey{Year: 2024, Month: time.January}

	tests := []struct {
		in      string
		want    models.MonthKey
		wantErr bool
	}{
		{in: "ม.ค. 2567", want: jan2024},
		{in: "ม.ค. 67", want: jan2024},
		{in: "ม.ค.67", want: jan2024},
		{in: "มกราคม 2567", want: jan2024},
		{in: "ธ.ค. 66", want: models.MonthKey{Year: 2023, Month: time.December}},
		{in: "Jan 2024", want: jan2024},
		{in: "jan-24", want: jan2024},
		{in: "2024-01", want: jan2024},
		{in: "2024/1", want: jan2024},
		{in: "01/2024", want: jan2024},
		{in: "2024-01-15", want: jan2024},
		{in: "15/01/2567", want: jan2024},
		{in: "xyz 2024", wantErr: true},
		{in: "2024-13", wantErr: true},
		{in: "ม.ค.", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := p.ParseMonth(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMonth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMonth(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestParseMonth_RoundTrip checks that derived month keys re-parse to the same month
func TestParseMonth_RoundTrip(t *testing.T) {
	p := fixedParser()
	for _, in := range []string{"ม.ค. 67", "15/08/2566", "2023-11-30", "Dec 2022", "มิ.ย. 2568"} {
		key, err := p.ParseMonth(in)
		if err != nil {
			t.Fatalf("ParseMonth(%q) error = %v", in, err)
		}
		back, err := models.ParseMonthKey(key.String())
		if err != nil {
			t.Fatalf("ParseMonthKey(%q) error = %v", key.String(), err)
		}
		if back != key {
			t.Errorf("round trip of %q: %v != %v", in, back, key)
		}
		again, err := p.ParseMonth(key.String())
		if err != nil || again != key {
			t.Errorf("ParseMonth(%q) = %v, %v; want %v", key.String(), again, err, key)
		}
	}
}
