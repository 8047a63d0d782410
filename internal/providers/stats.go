package providers

import (
	"sync"
	"time"
)

// StatsRecorder accumulates per-request metrics for a provider
type StatsRecorder struct {
	mu               sync.RWMutex
	totalRequests    int64
	totalQueueTime   time.Duration
	totalNetworkTime time.Duration
	totalParseTime   time.Duration
	totalBytes       int64
	rateLimitHits    int64
	failures         int64
}

// Record adds one request's metrics
func (s *StatsRecorder) Record(m PerformanceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests += int64(m.RequestCount)
	s.totalQueueTime += m.QueueTime
	s.totalNetworkTime += m.NetworkTime
	s.totalParseTime += m.ParseTime
	s.totalBytes += m.BytesReceived
	s.rateLimitHits += int64(m.RateLimitHits)
	s.failures += int64(m.Failures)
}

// Snapshot returns averages per request and cumulative counters
func (s *StatsRecorder) Snapshot() PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.totalRequests
	if n < 1 {
		n = 1
	}
	avgQueue := time.Duration(int64(s.totalQueueTime) / n)
	avgNetwork := time.Duration(int64(s.totalNetworkTime) / n)

	return PerformanceMetrics{
		RequestDuration: avgQueue + avgNetwork,
		QueueTime:       avgQueue,
		NetworkTime:     avgNetwork,
		ParseTime:       time.Duration(int64(s.totalParseTime) / n),
		RequestCount:    int(s.totalRequests),
		BytesReceived:   s.totalBytes,
		RateLimitHits:   int(s.rateLimitHits),
		Failures:        int(s.failures),
	}
}
