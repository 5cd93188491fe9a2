package pipeline

import (
	"pm25-surveillance/internal/models"
)

// CurrentPM25 is the newest real-time reading with its AQI band
type CurrentPM25 struct {
	Sample models.PM25Sample `json:"sample"`
	AQI    AQILevel          `json:"aqi"`
}

// LatestSample returns the sample with the newest timestamp
func LatestSample(samples []models.PM25Sample) (*CurrentPM25, bool) {
	if len(samples) == 0 {
		return nil, false
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	return &CurrentPM25{Sample: latest, AQI: ClassifyAQI(models.FloatPtr(latest.Value))}, true
}
