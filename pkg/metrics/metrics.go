// Package metrics provides Prometheus-based metrics recording for the bot
// runtime: update handling, SQL actions, LLM calls, widgets and broadcasts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBucketsMs covers the handler path from sub-millisecond cache hits to
// multi-second LLM round trips.
var latencyBucketsMs = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Recorder holds every metric the runtime updates. Created once at startup
// and shared across components.
type Recorder struct {
	updatesTotal        *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	handleLatency       prometheus.Histogram
	webhookLatency      prometheus.Histogram
	sqlQueryTotal       *prometheus.CounterVec
	sqlExecTotal        *prometheus.CounterVec
	actionLatency       *prometheus.HistogramVec
	llmRequestsTotal    *prometheus.CounterVec
	llmLatency          *prometheus.HistogramVec
	llmTokensTotal      *prometheus.CounterVec
	llmCacheHitsTotal   *prometheus.CounterVec
	llmErrorsTotal      *prometheus.CounterVec
	llmTimeoutTotal     *prometheus.CounterVec
	breakerStateChanges *prometheus.CounterVec
	breakerRejections   *prometheus.CounterVec
	calendarRenders     *prometheus.CounterVec
	calendarPicks       *prometheus.CounterVec
	paginationRenders   *prometheus.CounterVec
	paginationSelects   *prometheus.CounterVec
	broadcastSent       *prometheus.CounterVec
	broadcastFailed     *prometheus.CounterVec
}

// NewRecorder registers all metrics on the default Prometheus registry.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith registers all metrics on the given registerer. Tests use
// this with a private registry to avoid duplicate-registration panics.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_updates_total",
				Help: "Total inbound updates handled, per bot",
			},
			[]string{"bot_id"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_errors_total",
				Help: "Total errors by bot, component and error code",
			},
			[]string{"bot_id", "where", "code"},
		),
		handleLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dsl_handle_latency_ms",
				Help:    "End-to-end update handling latency in milliseconds",
				Buckets: latencyBucketsMs,
			},
		),
		webhookLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhook_latency_ms",
				Help:    "Webhook endpoint latency in milliseconds",
				Buckets: latencyBucketsMs,
			},
		),
		sqlQueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_sql_query_total",
				Help: "Total sql_query actions executed, per bot",
			},
			[]string{"bot_id"},
		),
		sqlExecTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_sql_exec_total",
				Help: "Total sql_exec actions executed, per bot",
			},
			[]string{"bot_id"},
		),
		actionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsl_action_latency_ms",
				Help:    "Per-action execution latency in milliseconds",
				Buckets: latencyBucketsMs,
			},
			[]string{"action"},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM requests by request type and outcome",
			},
			[]string{"type", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_ms",
				Help:    "LLM request latency in milliseconds",
				Buckets: latencyBucketsMs,
			},
			[]string{"type", "cached"},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens consumed by model and token type",
			},
			[]string{"model", "type"},
		),
		llmCacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_cache_hits_total",
				Help: "Total LLM responses served from cache",
			},
			[]string{"model"},
		),
		llmErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_errors_total",
				Help: "Total LLM request failures by model and error type",
			},
			[]string{"model", "error_type"},
		),
		llmTimeoutTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_timeout_total",
				Help: "Total LLM requests abandoned on deadline, per bot",
			},
			[]string{"bot_id"},
		),
		breakerStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_state_changes_total",
				Help: "Circuit breaker transitions by bot and target state",
			},
			[]string{"bot_id", "to"},
		),
		breakerRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_breaker_rejections_total",
				Help: "LLM requests rejected by an open circuit breaker, per bot",
			},
			[]string{"bot_id"},
		),
		calendarRenders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_calendar_renders_total",
				Help: "Calendar widget grids rendered, per bot",
			},
			[]string{"bot_id"},
		),
		calendarPicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_calendar_picks_total",
				Help: "Calendar terminal picks by bot and mode",
			},
			[]string{"bot_id", "mode"},
		),
		paginationRenders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_pagination_renders_total",
				Help: "Pagination widget pages rendered, per bot",
			},
			[]string{"bot_id"},
		),
		paginationSelects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_pagination_selects_total",
				Help: "Pagination item selections, per bot",
			},
			[]string{"bot_id"},
		),
		broadcastSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcast_sent_total",
				Help: "Broadcast messages delivered, per bot",
			},
			[]string{"bot_id"},
		),
		broadcastFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcast_failed_total",
				Help: "Broadcast messages failed after retries, per bot",
			},
			[]string{"bot_id"},
		),
	}
}

// IncUpdate counts one handled inbound update.
func (r *Recorder) IncUpdate(botID string) {
	r.updatesTotal.WithLabelValues(botID).Inc()
}

// IncError counts an error surfaced by a component.
func (r *Recorder) IncError(botID, where, code string) {
	r.errorsTotal.WithLabelValues(botID, where, code).Inc()
}

// ObserveHandleLatency records end-to-end update handling time.
func (r *Recorder) ObserveHandleLatency(d time.Duration) {
	r.handleLatency.Observe(millis(d))
}

// ObserveWebhookLatency records webhook endpoint time.
func (r *Recorder) ObserveWebhookLatency(d time.Duration) {
	r.webhookLatency.Observe(millis(d))
}

// IncSQLQuery counts one executed sql_query action.
func (r *Recorder) IncSQLQuery(botID string) {
	r.sqlQueryTotal.WithLabelValues(botID).Inc()
}

// IncSQLExec counts one executed sql_exec action.
func (r *Recorder) IncSQLExec(botID string) {
	r.sqlExecTotal.WithLabelValues(botID).Inc()
}

// ObserveActionLatency records a single action's execution time.
func (r *Recorder) ObserveActionLatency(action string, d time.Duration) {
	r.actionLatency.WithLabelValues(action).Observe(millis(d))
}

// ObserveLLMRequest records one LLM round trip with its latency.
func (r *Recorder) ObserveLLMRequest(reqType, status string, cached bool, d time.Duration) {
	r.llmRequestsTotal.WithLabelValues(reqType, status).Inc()
	r.llmLatency.WithLabelValues(reqType, boolLabel(cached)).Observe(millis(d))
}

// AddLLMTokens accumulates token usage for a model.
func (r *Recorder) AddLLMTokens(model, tokenType string, n int) {
	r.llmTokensTotal.WithLabelValues(model, tokenType).Add(float64(n))
}

// IncLLMCacheHit counts a response served from the Redis cache.
func (r *Recorder) IncLLMCacheHit(model string) {
	r.llmCacheHitsTotal.WithLabelValues(model).Inc()
}

// IncLLMError counts a failed LLM request.
func (r *Recorder) IncLLMError(model, errorType string) {
	r.llmErrorsTotal.WithLabelValues(model, errorType).Inc()
}

// IncLLMTimeout counts an LLM request abandoned on deadline.
func (r *Recorder) IncLLMTimeout(botID string) {
	r.llmTimeoutTotal.WithLabelValues(botID).Inc()
}

// IncBreakerStateChange counts a circuit breaker transition.
func (r *Recorder) IncBreakerStateChange(botID, to string) {
	r.breakerStateChanges.WithLabelValues(botID, to).Inc()
}

// IncBreakerRejection counts a request refused by an open breaker.
func (r *Recorder) IncBreakerRejection(botID string) {
	r.breakerRejections.WithLabelValues(botID).Inc()
}

// IncCalendarRender counts one rendered calendar grid.
func (r *Recorder) IncCalendarRender(botID string) {
	r.calendarRenders.WithLabelValues(botID).Inc()
}

// IncCalendarPick counts a terminal calendar pick.
func (r *Recorder) IncCalendarPick(botID, mode string) {
	r.calendarPicks.WithLabelValues(botID, mode).Inc()
}

// IncPaginationRender counts one rendered pagination page.
func (r *Recorder) IncPaginationRender(botID string) {
	r.paginationRenders.WithLabelValues(botID).Inc()
}

// IncPaginationSelect counts one pagination item selection.
func (r *Recorder) IncPaginationSelect(botID string) {
	r.paginationSelects.WithLabelValues(botID).Inc()
}

// AddBroadcastSent accumulates delivered broadcast messages.
func (r *Recorder) AddBroadcastSent(botID string, n int) {
	r.broadcastSent.WithLabelValues(botID).Add(float64(n))
}

// AddBroadcastFailed accumulates broadcast messages that exhausted retries.
func (r *Recorder) AddBroadcastFailed(botID string, n int) {
	r.broadcastFailed.WithLabelValues(botID).Add(float64(n))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
