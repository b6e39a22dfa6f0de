package provider

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/esim-gateway/pkg/logger"
)

type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateCircuitOpen
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breaker tracks upstream call outcomes and opens after consecutive failures.
type breaker struct {
	name      string
	threshold int32
	timeout   time.Duration

	totalRequests    atomic.Int64
	successfulReqs   atomic.Int64
	failedReqs       atomic.Int64
	totalLatencyMs   atomic.Int64
	consecutiveFails atomic.Int32
	state            atomic.Int32
	openUntil        atomic.Int64

	mu             sync.Mutex
	latencyHistory []int64
	maxHistorySize int
}

func newBreaker(name string, threshold int, timeout time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breaker{
		name:           name,
		threshold:      int32(threshold),
		timeout:        timeout,
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (b *breaker) State() State {
	return State(b.state.Load())
}

// Allow reports whether a call may go out. An open circuit lets one probe through once its timeout passed.
func (b *breaker) Allow() bool {
	if b.State() != StateCircuitOpen {
		return true
	}
	if time.Now().UnixMilli() < b.openUntil.Load() {
		return false
	}
	b.state.CompareAndSwap(int32(StateCircuitOpen), int32(StateDegraded))
	return true
}

func (b *breaker) RecordSuccess(latency time.Duration) {
	ms := latency.Milliseconds()
	b.totalRequests.Add(1)
	b.successfulReqs.Add(1)
	b.totalLatencyMs.Add(ms)
	b.consecutiveFails.Store(0)
	if b.State() != StateHealthy {
		b.state.Store(int32(StateHealthy))
		logger.Info("provider recovered", "provider", b.name)
	}

	b.mu.Lock()
	if len(b.latencyHistory) >= b.maxHistorySize {
		b.latencyHistory = b.latencyHistory[1:]
	}
	b.latencyHistory = append(b.latencyHistory, ms)
	b.mu.Unlock()
}

func (b *breaker) RecordFailure() {
	b.totalRequests.Add(1)
	b.failedReqs.Add(1)
	fails := b.consecutiveFails.Add(1)

	if fails >= b.threshold {
		if b.state.Swap(int32(StateCircuitOpen)) != int32(StateCircuitOpen) {
			logger.Warn("provider circuit opened", "provider", b.name, "consecutive_fails", fails, "timeout", b.timeout)
		}
		b.openUntil.Store(time.Now().Add(b.timeout).UnixMilli())
		return
	}
	b.state.CompareAndSwap(int32(StateHealthy), int32(StateDegraded))
}

func (b *breaker) SuccessRate() float64 {
	total := b.totalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(b.successfulReqs.Load()) / float64(total)
}

func (b *breaker) AvgLatencyMs() int64 {
	ok := b.successfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return b.totalLatencyMs.Load() / ok
}

func (b *breaker) P95LatencyMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.latencyHistory) == 0 {
		return 0
	}

	sorted := make([]int64, len(b.latencyHistory))
	copy(sorted, b.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stats is the health view of the upstream provider.
type Stats struct {
	Name             string  `json:"name"`
	State            string  `json:"state"`
	TotalRequests    int64   `json:"total_requests"`
	FailedRequests   int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (b *breaker) Stats() Stats {
	return Stats{
		Name:             b.name,
		State:            b.State().String(),
		TotalRequests:    b.totalRequests.Load(),
		FailedRequests:   b.failedReqs.Load(),
		SuccessRate:      b.SuccessRate(),
		AvgLatencyMs:     b.AvgLatencyMs(),
		P95LatencyMs:     b.P95LatencyMs(),
		ConsecutiveFails: b.consecutiveFails.Load(),
	}
}
