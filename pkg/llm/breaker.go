package llm

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/botfabrik/botfabrik/pkg/metrics"
)

// BreakerState is one of the circuit breaker's three states.
type BreakerState string

// Breaker states.
const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker tuning. Thresholds are fixed by the runtime contract, not
// spec-configurable.
const (
	failureThreshold = 5
	successThreshold = 2
	cooldown         = 30 * time.Second
)

// ErrBreakerOpen is returned when a bot's breaker refuses the request.
var ErrBreakerOpen = errors.New("circuit breaker open")

type breakerStats struct {
	state         BreakerState
	failures      int
	successes     int
	lastFailure   time.Time
	probeInFlight bool
}

// Breaker isolates each bot's LLM failures: five consecutive failures open
// the circuit, a 30 s cooldown admits a single half-open probe, and two
// consecutive probe successes close it again. State is process-local — the
// breaker protects this pod's resources only.
type Breaker struct {
	mu      sync.Mutex
	bots    map[string]*breakerStats
	metrics *metrics.Recorder

	// now is replaceable in tests.
	now func() time.Time
}

// NewBreaker creates a breaker with no per-bot history.
func NewBreaker(rec *metrics.Recorder) *Breaker {
	return &Breaker{
		bots:    make(map[string]*breakerStats),
		metrics: rec,
		now:     time.Now,
	}
}

func (b *Breaker) stats(botID string) *breakerStats {
	st, ok := b.bots[botID]
	if !ok {
		st = &breakerStats{state: StateClosed}
		b.bots[botID] = st
	}
	return st
}

// Allow reports whether a request for this bot may proceed. In half-open
// only a single probe is admitted at a time; the caller must follow up with
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow(botID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stats(botID)
	switch st.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(st.lastFailure) < cooldown {
			if b.metrics != nil {
				b.metrics.IncBreakerRejection(botID)
			}
			return ErrBreakerOpen
		}
		b.transition(botID, st, StateHalfOpen)
		st.successes = 0
		st.probeInFlight = true
		return nil
	default: // half-open
		if st.probeInFlight {
			if b.metrics != nil {
				b.metrics.IncBreakerRejection(botID)
			}
			return ErrBreakerOpen
		}
		st.probeInFlight = true
		return nil
	}
}

// RecordSuccess notes a completed request.
func (b *Breaker) RecordSuccess(botID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stats(botID)
	switch st.state {
	case StateClosed:
		st.failures = 0
	case StateHalfOpen:
		st.probeInFlight = false
		st.successes++
		if st.successes >= successThreshold {
			b.transition(botID, st, StateClosed)
			st.failures = 0
			st.successes = 0
		}
	}
}

// RecordFailure notes a transport error, timeout, or upstream 5xx.
func (b *Breaker) RecordFailure(botID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stats(botID)
	st.lastFailure = b.now()
	switch st.state {
	case StateClosed:
		st.failures++
		if st.failures >= failureThreshold {
			b.transition(botID, st, StateOpen)
		}
	case StateHalfOpen:
		// Probe failed: back to open, cooldown restarts.
		st.probeInFlight = false
		st.successes = 0
		b.transition(botID, st, StateOpen)
	}
}

// State returns the bot's current breaker state, for health reporting.
func (b *Breaker) State(botID string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats(botID).state
}

func (b *Breaker) transition(botID string, st *breakerStats, to BreakerState) {
	if st.state == to {
		return
	}
	slog.Info("Circuit breaker state change", "bot_id", botID, "from", st.state, "to", to)
	st.state = to
	if b.metrics != nil {
		b.metrics.IncBreakerStateChange(botID, string(to))
	}
}
