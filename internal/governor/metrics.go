package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics 的所有方法对 nil 接收者安全，未注册指标时直接跳过。
type metrics struct {
	hitRate           prometheus.Gauge
	windowTrades      prometheus.Gauge
	consecutiveLosses prometheus.Gauge
	consecutiveErrors prometheus.Gauge
	paused            prometheus.Gauge
	halted            prometheus.Gauge
	trades            *prometheus.CounterVec
	denials           *prometheus.CounterVec
	halts             prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		hitRate:           f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_hit_rate_percent", Help: "Rolling hit rate over the trade window"}),
		windowTrades:      f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_window_trades", Help: "Trades currently held in the rolling window"}),
		consecutiveLosses: f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_consecutive_losses", Help: "Current loss streak"}),
		consecutiveErrors: f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_consecutive_errors", Help: "Current execution error streak"}),
		paused:            f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_paused", Help: "1 while new trades are paused"}),
		halted:            f.NewGauge(prometheus.GaugeOpts{Name: "scalpguard_governor_session_halted", Help: "1 while the session halt is active"}),
		trades:            f.NewCounterVec(prometheus.CounterOpts{Name: "scalpguard_governor_trades_total", Help: "Recorded trades by result"}, []string{"result"}),
		denials:           f.NewCounterVec(prometheus.CounterOpts{Name: "scalpguard_governor_denials_total", Help: "Pre-trade checks that denied trading"}, []string{"analysis_required"}),
		halts:             f.NewCounter(prometheus.CounterOpts{Name: "scalpguard_governor_halts_total", Help: "Session halts entered"}),
	}
}

func (m *metrics) observe(st Stats) {
	if m == nil {
		return
	}
	m.hitRate.Set(st.HitRate)
	m.windowTrades.Set(float64(st.TotalTrades))
	m.consecutiveLosses.Set(float64(st.ConsecutiveLosses))
	m.consecutiveErrors.Set(float64(st.ConsecutiveErrors))
	m.paused.Set(boolGauge(st.IsPaused))
	m.halted.Set(boolGauge(st.SessionHalted))
}

func (m *metrics) trade(isWin bool) {
	if m == nil {
		return
	}
	result := "loss"
	if isWin {
		result = "win"
	}
	m.trades.WithLabelValues(result).Inc()
}

func (m *metrics) denied(analysis bool) {
	if m == nil {
		return
	}
	label := "false"
	if analysis {
		label = "true"
	}
	m.denials.WithLabelValues(label).Inc()
}

func (m *metrics) halt() {
	if m == nil {
		return
	}
	m.halts.Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
