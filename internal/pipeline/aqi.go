package pipeline

// AQILevel is the Thai PM2.5 air quality band of a concentration
type AQILevel struct {
	Level     string `json:"level"`
	Label     string `json:"label"`
	Color     string `json:"color"`
	TextColor string `json:"text_color"`
}

var (
	aqiNoData    = AQILevel{Level: "no_data", Label: "ไม่มีข้อมูล", Color: "#cccccc", TextColor: "black"}
	aqiVeryGood  = AQILevel{Level: "very_good", Label: "อากาศดีมาก", Color: "#3498DB", TextColor: "white"}
	aqiGood      = AQILevel{Level: "good", Label: "อากาศดี", Color: "#2ECC71", TextColor: "white"}
	aqiModerate  = AQILevel{Level: "moderate", Label: "คุณภาพอากาศปานกลาง", Color: "#F1C40F", TextColor: "black"}
	aqiAffecting = AQILevel{Level: "starting_to_affect_health", Label: "เริ่มมีผลกระทบต่อสุขภาพ", Color: "#E67E22", TextColor: "white"}
	aqiUnhealthy = AQILevel{Level: "affects_health", Label: "มีผลกระทบต่อสุขภาพ", Color: "#E74C3C", TextColor: "white"}
)

// ClassifyAQI maps a PM2.5 value (µg/m³) to its band; nil means no data
func ClassifyAQI(value *float64) AQILevel {
	if value == nil {
		return aqiNoData
	}
	switch v := *value; {
	case v <= 15:
		return aqiVeryGood
	case v <= 25:
		return aqiGood
	case v <= 37.5:
		return aqiModerate
	case v <= 75:
		return aqiAffecting
	default:
		return aqiUnhealthy
	}
}
