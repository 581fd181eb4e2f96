package trust

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"
)

// #region mock

// mockLocator returns a fixed location or error.
type mockLocator struct {
	loc Location
	err error
}

func (m *mockLocator) Locate(_ context.Context, _ string) (Location, error) {
	return m.loc, m.err
}

// #endregion mock

var wednesdayMorning = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func legit() RequestContext {
	return RequestContext{
		UserID:    "alice",
		SourceIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
		DeviceID:  "laptop",
		TLS:       true,
		Timestamp: wednesdayMorning,
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// #region blend-tests

func TestAnalyze_KnownDeviceRaisesTrust(t *testing.T) {
	d := NewDetector(&mockLocator{loc: Location{Country: "US"}}, DefaultDetectorConfig())

	first, err := d.Analyze(context.Background(), legit())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !near(first.TrustScore, 0.85) {
		t.Errorf("first visit trust = %f, want 0.85", first.TrustScore)
	}
	d.Remember("alice", first.Fingerprint)
	second, _ := d.Analyze(context.Background(), legit())
	if !near(second.TrustScore, 0.97) {
		t.Errorf("known device trust = %f, want 0.97", second.TrustScore)
	}
	if !near(second.RiskLevel, 1-second.TrustScore) {
		t.Errorf("risk level %f should be 1-trust", second.RiskLevel)
	}
	if first.Fingerprint != second.Fingerprint || first.Fingerprint == "" {
		t.Errorf("fingerprint should be stable, got %q and %q", first.Fingerprint, second.Fingerprint)
	}
}

func TestAnalyze_SuspiciousRequestScoresLow(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())
	a, err := d.Analyze(context.Background(), RequestContext{
		SourceIP:  "198.51.100.1",
		UserAgent: "curl/8.0",
		Timestamp: time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !near(a.TrustScore, 0.37) {
		t.Errorf("trust = %f, want 0.37", a.TrustScore)
	}
	for _, want := range []string{"anonymous request", "automated client", "insecure transport", "off-hours access"} {
		if !slices.Contains(a.Anomalies, want) {
			t.Errorf("missing anomaly %q in %v", want, a.Anomalies)
		}
	}
	if !slices.Contains(a.Recommendations, "require step-up authentication") {
		t.Errorf("expected step-up recommendation, got %v", a.Recommendations)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDetector(nil, DefaultDetectorConfig()).Analyze(ctx, legit()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// #endregion blend-tests

// #region helper-tests

func TestGeolocation_ErrorDegradesToNeutral(t *testing.T) {
	d := NewDetector(&mockLocator{err: errors.New("lookup timeout")}, DefaultDetectorConfig())
	a, _ := d.Analyze(context.Background(), legit())
	if a.Scores.Geolocation != neutral {
		t.Errorf("geolocation = %f, want neutral", a.Scores.Geolocation)
	}
	if !slices.Contains(a.Recommendations, "geolocation unavailable") {
		t.Errorf("expected degraded recommendation, got %v", a.Recommendations)
	}
}

func TestGeolocation_DisallowedCountryAndHosting(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.AllowedCountries = []string{"US", "CA"}

	d := NewDetector(&mockLocator{loc: Location{Country: "XX"}}, cfg)
	a, _ := d.Analyze(context.Background(), legit())
	if a.Scores.Geolocation != 0.1 {
		t.Errorf("disallowed country score = %f", a.Scores.Geolocation)
	}

	d = NewDetector(&mockLocator{loc: Location{Country: "US", Hosting: true}}, cfg)
	a, _ = d.Analyze(context.Background(), legit())
	if a.Scores.Geolocation != 0.4 {
		t.Errorf("hosting score = %f", a.Scores.Geolocation)
	}
}

func TestBehavioral_BurstDetected(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.BurstRate = 0.001
	cfg.BurstSize = 2
	d := NewDetector(nil, cfg)

	for i := 0; i < 2; i++ {
		d.Analyze(context.Background(), legit())
	}
	a, _ := d.Analyze(context.Background(), legit())
	if a.Scores.Behavioral != 0.1 {
		t.Errorf("behavioral after burst = %f, want 0.1", a.Scores.Behavioral)
	}
	if !slices.Contains(a.Recommendations, "apply rate limiting") {
		t.Errorf("expected rate limiting recommendation, got %v", a.Recommendations)
	}
}

func TestBehavioral_NewDevice(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())
	first, _ := d.Analyze(context.Background(), legit())
	d.Remember("alice", first.Fingerprint)

	rc := legit()
	rc.DeviceID = "phone"
	a, _ := d.Analyze(context.Background(), rc)
	if a.Scores.Behavioral != 0.4 || !slices.Contains(a.Anomalies, "new device") {
		t.Errorf("new device: behavioral=%f anomalies=%v", a.Scores.Behavioral, a.Anomalies)
	}
}

func TestBehavioral_AnalyzeDoesNotLearnDevice(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())
	first, _ := d.Analyze(context.Background(), legit())
	second, _ := d.Analyze(context.Background(), legit())
	if first.Scores.Behavioral != 0.7 || second.Scores.Behavioral != 0.7 {
		t.Errorf("unremembered device: behavioral %f then %f, want 0.7 both times",
			first.Scores.Behavioral, second.Scores.Behavioral)
	}

	d.Remember("", first.Fingerprint)
	third, _ := d.Analyze(context.Background(), legit())
	if third.Scores.Behavioral != 0.7 {
		t.Errorf("anonymous remember should be ignored, behavioral = %f", third.Scores.Behavioral)
	}
}

func TestTemporal_Weekend(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())
	rc := legit()
	rc.Timestamp = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	a, _ := d.Analyze(context.Background(), rc)
	if a.Scores.Temporal != 0.7 {
		t.Errorf("weekend temporal = %f, want 0.7", a.Scores.Temporal)
	}
}

func TestTechnical_InvalidAddress(t *testing.T) {
	score := technicalScore(RequestContext{UserAgent: "Mozilla", TLS: true, SourceIP: "not-an-ip"}, new([]string))
	if !near(score, 0.7) {
		t.Errorf("technical = %f, want 0.7", score)
	}
}

func TestFingerprint_SameSubnet(t *testing.T) {
	a := fingerprint(RequestContext{UserAgent: "ua", DeviceID: "d", SourceIP: "10.0.0.1"})
	b := fingerprint(RequestContext{UserAgent: "ua", DeviceID: "d", SourceIP: "10.0.0.200"})
	c := fingerprint(RequestContext{UserAgent: "ua", DeviceID: "d", SourceIP: "10.0.1.1"})
	if a != b {
		t.Error("same /24 should share a fingerprint")
	}
	if a == c {
		t.Error("different /24 should change the fingerprint")
	}
}

// #endregion helper-tests
