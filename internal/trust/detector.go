// Package trust scores access attempts from behavioral, geolocation, technical
// and temporal signals.
package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const neutral = 0.5

// #region detector

// Detector computes a weighted trust score. Helper failures degrade to a neutral score.
type Detector struct {
	locator GeoLocator
	config  DetectorConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	devices  map[string]map[string]struct{}
}

// NewDetector creates a Detector. locator may be nil (geolocation degrades to neutral).
func NewDetector(locator GeoLocator, config DetectorConfig) *Detector {
	return &Detector{
		locator:  locator,
		config:   config,
		limiters: make(map[string]*rate.Limiter),
		devices:  make(map[string]map[string]struct{}),
	}
}

// #endregion detector

// #region analyze

// Analyze blends the four sub-scores. It only fails when ctx is done.
func (d *Detector) Analyze(ctx context.Context, rc RequestContext) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now()
	}
	a := Analysis{Fingerprint: fingerprint(rc)}

	a.Scores.Behavioral = d.behavioralScore(rc, a.Fingerprint, &a.Anomalies)
	a.Scores.Geolocation = d.geolocationScore(ctx, rc, &a.Anomalies, &a.Recommendations)
	a.Scores.Technical = technicalScore(rc, &a.Anomalies)
	a.Scores.Temporal = d.temporalScore(rc, &a.Anomalies)

	a.TrustScore = clamp(d.config.BehavioralWeight*a.Scores.Behavioral +
		d.config.GeolocationWeight*a.Scores.Geolocation +
		d.config.TechnicalWeight*a.Scores.Technical +
		d.config.TemporalWeight*a.Scores.Temporal)
	a.RiskLevel = 1 - a.TrustScore
	a.Recommendations = append(a.Recommendations, recommend(a)...)
	return a, nil
}

// #endregion analyze

// #region behavioral

// behavioralScore combines burst detection with device familiarity.
func (d *Detector) behavioralScore(rc RequestContext, fp string, anomalies *[]string) float64 {
	if rc.UserID == "" {
		*anomalies = append(*anomalies, "anonymous request")
		return 0.2
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	lim, ok := d.limiters[rc.UserID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.config.BurstRate), d.config.BurstSize)
		d.limiters[rc.UserID] = lim
	}
	if !lim.AllowN(rc.Timestamp, 1) {
		*anomalies = append(*anomalies, "request burst")
		return 0.1
	}

	known := d.devices[rc.UserID]
	switch {
	case known == nil:
		return 0.7
	case hasKey(known, fp):
		return 1.0
	default:
		*anomalies = append(*anomalies, "new device")
		return 0.4
	}
}

// Remember records fp as a known device of userID. Callers invoke it once a
// request has been allowed, so refused attempts never become familiar.
func (d *Detector) Remember(userID, fp string) {
	if userID == "" || fp == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	known := d.devices[userID]
	if known == nil {
		known = make(map[string]struct{})
		d.devices[userID] = known
	}
	known[fp] = struct{}{}
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// #endregion behavioral

// #region geolocation

// geolocationScore degrades to neutral on nil locator or lookup error.
func (d *Detector) geolocationScore(ctx context.Context, rc RequestContext, anomalies, recs *[]string) float64 {
	if d.locator == nil || rc.SourceIP == "" {
		return neutral
	}
	loc, err := d.locator.Locate(ctx, rc.SourceIP)
	if err != nil {
		*recs = append(*recs, "geolocation unavailable")
		return neutral
	}
	if len(d.config.AllowedCountries) > 0 && !slices.Contains(d.config.AllowedCountries, loc.Country) {
		*anomalies = append(*anomalies, "disallowed country "+loc.Country)
		return 0.1
	}
	if loc.Hosting {
		*anomalies = append(*anomalies, "hosting or proxy network")
		return 0.4
	}
	return 0.9
}

// #endregion geolocation

// #region technical

var automatedAgents = []string{"curl", "wget", "python", "bot", "scanner", "sqlmap", "nikto"}

func technicalScore(rc RequestContext, anomalies *[]string) float64 {
	score := 1.0
	ua := strings.ToLower(rc.UserAgent)
	if ua == "" {
		score -= 0.4
		*anomalies = append(*anomalies, "missing user agent")
	} else {
		for _, a := range automatedAgents {
			if strings.Contains(ua, a) {
				score -= 0.3
				*anomalies = append(*anomalies, "automated client")
				break
			}
		}
	}
	if !rc.TLS {
		score -= 0.2
		*anomalies = append(*anomalies, "insecure transport")
	}
	if rc.SourceIP != "" && net.ParseIP(rc.SourceIP) == nil {
		score -= 0.3
		*anomalies = append(*anomalies, "invalid source address")
	}
	return clamp(score)
}

// #endregion technical

// #region temporal

func (d *Detector) temporalScore(rc RequestContext, anomalies *[]string) float64 {
	h := rc.Timestamp.Hour()
	inHours := h >= d.config.BusinessHoursStart && h < d.config.BusinessHoursEnd
	weekend := rc.Timestamp.Weekday() == time.Saturday || rc.Timestamp.Weekday() == time.Sunday
	switch {
	case inHours && !weekend:
		return 1.0
	case inHours:
		return 0.7
	default:
		*anomalies = append(*anomalies, "off-hours access")
		return 0.4
	}
}

// #endregion temporal

// #region helpers

// fingerprint hashes the client identity: user agent, device and /24 of the address.
func fingerprint(rc RequestContext) string {
	network := rc.SourceIP
	if ip := net.ParseIP(rc.SourceIP); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			network = v4.Mask(net.CIDRMask(24, 32)).String()
		}
	}
	sum := sha256.Sum256([]byte(rc.UserAgent + "|" + rc.DeviceID + "|" + network))
	return hex.EncodeToString(sum[:8])
}

func recommend(a Analysis) []string {
	var out []string
	if a.TrustScore < neutral {
		out = append(out, "require step-up authentication")
	}
	for _, an := range a.Anomalies {
		switch {
		case an == "request burst":
			out = append(out, "apply rate limiting")
		case an == "new device":
			out = append(out, "confirm new device with user")
		case strings.HasPrefix(an, "disallowed country"):
			out = append(out, "block source region")
		}
	}
	return out
}

// clamp restricts v to [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
