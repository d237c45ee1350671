// Package metrics exports decode-channel health to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/pipeline"
	"github.com/fluxrip/fluxrip/quality"
)

// Metrics holds all Prometheus collectors for one decode channel.
type Metrics struct {
	errorsTotal *prometheus.GaugeVec // by error kind
	errorRate   prometheus.Gauge

	qualityScore prometheus.Gauge
	stability    prometheus.Gauge
	consistency  prometheus.Gauge
	degraded     prometheus.Gauge

	rpm               prometheus.Gauge
	profileConfidence prometheus.Gauge
	profileLocked     prometheus.Gauge
	profileValid      prometheus.Gauge

	revolutionsTotal prometheus.Counter
	sectorsTotal     prometheus.Counter
	sectorsGood      prometheus.Counter
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		errorsTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxrip_errors_total",
				Help: "Lifetime error counter per error kind",
			},
			[]string{"kind"},
		),
		errorRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_error_rate",
				Help: "Errors per 1000 operations, saturating at 255",
			},
		),
		qualityScore: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_quality",
				Help: "Per-revolution signal quality score (0-255)",
			},
		),
		stability: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_stability",
				Help: "Per-revolution DPLL lock stability (0-255)",
			},
		),
		consistency: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_consistency",
				Help: "Per-revolution flux interval consistency (0-255)",
			},
		),
		degraded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_degraded",
				Help: "1 when signal quality is below the degraded threshold",
			},
		),
		rpm: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_drive_rpm",
				Help: "Measured spindle speed",
			},
		),
		profileConfidence: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_profile_confidence",
				Help: "Confidence percent of the drive profile inference",
			},
		),
		profileLocked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_profile_locked",
				Help: "1 when the drive profile is locked",
			},
		),
		profileValid: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxrip_profile_valid",
				Help: "1 when the drive profile is valid",
			},
		),
		revolutionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxrip_revolutions_total",
				Help: "Revolutions decoded",
			},
		),
		sectorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxrip_sectors_total",
				Help: "Sectors decoded, including failed integrity checks",
			},
		),
		sectorsGood: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxrip_sectors_good_total",
				Help: "Sectors decoded with passing CRC/ECC",
			},
		),
	}
}

// ObserveRevolution records one decoded revolution.
func (m *Metrics) ObserveRevolution(rev pipeline.Revolution) {
	m.revolutionsTotal.Inc()
	m.sectorsTotal.Add(float64(len(rev.Sectors)))
	for _, s := range rev.Sectors {
		if s.CRCOK {
			m.sectorsGood.Inc()
		}
	}
	m.UpdateQuality(rev.Quality)
}

// UpdateQuality publishes the latest per-revolution quality register.
func (m *Metrics) UpdateQuality(q quality.Metrics) {
	m.qualityScore.Set(float64(q.Quality))
	m.stability.Set(float64(q.Stability))
	m.consistency.Set(float64(q.Consistency))
	if q.Degraded {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

// UpdateCounters publishes the error counters and derived rate.
func (m *Metrics) UpdateCounters(c *pipeline.Counters) {
	for kind, count := range c.Snapshot() {
		m.errorsTotal.WithLabelValues(kind.String()).Set(float64(count))
	}
	m.errorRate.Set(float64(c.Rate()))
}

// UpdateProfile publishes the drive profile state.
func (m *Metrics) UpdateProfile(p detect.Profile) {
	m.rpm.Set(float64(p.RPM))
	m.profileConfidence.Set(float64(p.Confidence))
	m.profileLocked.Set(boolGauge(p.Locked))
	m.profileValid.Set(boolGauge(p.Valid))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
