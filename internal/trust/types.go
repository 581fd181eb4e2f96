package trust

import (
	"context"
	"time"
)

// #region locator-interface

// GeoLocator abstracts IP geolocation so Detector can be tested without a lookup service.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// Location is what a GeoLocator resolves an address to.
type Location struct {
	Country string
	City    string
	Hosting bool // datacenter, VPN or proxy range
}

// #endregion locator-interface

// #region config

// DetectorConfig holds weights and thresholds for trust scoring.
type DetectorConfig struct {
	BehavioralWeight  float64
	GeolocationWeight float64
	TechnicalWeight   float64
	TemporalWeight    float64

	AllowedCountries   []string // empty allows all
	BusinessHoursStart int      // inclusive, local hour
	BusinessHoursEnd   int      // exclusive
	BurstRate          float64  // sustained requests per second per user
	BurstSize          int
}

// DefaultDetectorConfig returns the 0.4/0.3/0.2/0.1 blend.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		BehavioralWeight:   0.4,
		GeolocationWeight:  0.3,
		TechnicalWeight:    0.2,
		TemporalWeight:     0.1,
		BusinessHoursStart: 8,
		BusinessHoursEnd:   18,
		BurstRate:          5,
		BurstSize:          10,
	}
}

// #endregion config

// #region input-output

// RequestContext is everything known about one access attempt.
type RequestContext struct {
	UserID    string
	SourceIP  string
	UserAgent string
	DeviceID  string
	TLS       bool
	Timestamp time.Time
}

// SubScores are the four components of the blend, each in [0,1].
type SubScores struct {
	Behavioral  float64 `json:"behavioral"`
	Geolocation float64 `json:"geolocation"`
	Technical   float64 `json:"technical"`
	Temporal    float64 `json:"temporal"`
}

// Analysis is the output of Detector.Analyze.
type Analysis struct {
	TrustScore      float64   `json:"trust_score"`
	RiskLevel       float64   `json:"risk_level"`
	Scores          SubScores `json:"scores"`
	Anomalies       []string  `json:"anomalies,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Fingerprint     string    `json:"fingerprint"`
}

// #endregion input-output
