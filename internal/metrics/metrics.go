// Package metrics содержит Prometheus-метрики сервиса.
//
// Метрики регистрируются в собственном реестре, а не в глобальном,
// чтобы на /metrics попадали только метрики сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты обработки события получения членства.
const (
	ResultAwarded = "awarded"
	ResultEmpty   = "empty"
	ResultInvalid = "invalid"
	ResultConfig  = "config_error"
	ResultFailed  = "failed"
)

// Metrics содержит все коллекторы сервиса.
type Metrics struct {
	Registry *prometheus.Registry

	GrantEventsTotal    *prometheus.CounterVec
	AwardsTotal         *prometheus.CounterVec
	PointsAwardedTotal  *prometheus.CounterVec
	PlanSyncTotal       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New создаёт метрики в новом реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		GrantEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_rewards_grant_events_total",
			Help: "Total number of membership grant events by result.",
		}, []string{"result"}),

		AwardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_rewards_awards_total",
			Help: "Total number of ledger awards by scope type.",
		}, []string{"scope"}),

		PointsAwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_rewards_points_total",
			Help: "Sum of points awarded by point type.",
		}, []string{"point_type"}),

		PlanSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_rewards_plan_sync_total",
			Help: "Total number of plan synchronisations with the host by result.",
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_rewards_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "membership_rewards_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.GrantEventsTotal,
		m.AwardsTotal,
		m.PointsAwardedTotal,
		m.PlanSyncTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler возвращает http.Handler, отдающий метрики.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordGrant учитывает обработанное событие. Метод безопасен для nil.
func (m *Metrics) RecordGrant(result string) {
	if m == nil {
		return
	}
	m.GrantEventsTotal.WithLabelValues(result).Inc()
}

// RecordAward учитывает начисление. scope принимает значения "any" или "plan".
// Списания (отрицательные суммы) учитываются только в счётчике начислений.
func (m *Metrics) RecordAward(scope, pointType string, amount int64) {
	if m == nil {
		return
	}
	m.AwardsTotal.WithLabelValues(scope).Inc()
	if amount > 0 {
		m.PointsAwardedTotal.WithLabelValues(pointType).Add(float64(amount))
	}
}

// RecordPlanSync учитывает синхронизацию планов.
func (m *Metrics) RecordPlanSync(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.PlanSyncTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP учитывает HTTP-запрос.
func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, code).Observe(elapsed.Seconds())
}
