package dialogue

import (
	"slices"
	"sync"
	"time"
)

const maxLatencySamples = 1000

// MetricsCollector counts turns and keeps a bounded window of latencies.
type MetricsCollector struct {
	mu sync.RWMutex

	turnCount       int64
	turnErrors      int64
	escalations     int64
	toolInvocations int64
	toolFailures    int64
	promptTokens    int64
	completionTkns  int64

	turnLatency []time.Duration
	toolStats   map[string]ToolStats
}

// ToolStats tracks one tool.
type ToolStats struct {
	Invocations int64 `json:"invocations"`
	Failures    int64 `json:"failures"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		turnLatency: make([]time.Duration, 0, maxLatencySamples),
		toolStats:   make(map[string]ToolStats),
	}
}

// RecordTurn records a finished turn; err marks a failed one.
func (mc *MetricsCollector) RecordTurn(duration time.Duration, err error, escalated bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.turnCount++
	if err != nil {
		mc.turnErrors++
	}
	if escalated {
		mc.escalations++
	}
	if len(mc.turnLatency) == maxLatencySamples {
		mc.turnLatency = append(mc.turnLatency[:0], mc.turnLatency[1:]...)
	}
	mc.turnLatency = append(mc.turnLatency, duration)
}

func (mc *MetricsCollector) RecordTool(name string, success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.toolInvocations++
	stats := mc.toolStats[name]
	stats.Invocations++
	if !success {
		stats.Failures++
		mc.toolFailures++
	}
	mc.toolStats[name] = stats
}

func (mc *MetricsCollector) RecordUsage(promptTokens, completionTokens int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.promptTokens += int64(promptTokens)
	mc.completionTkns += int64(completionTokens)
}

// GetSummary returns a snapshot of the collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	tools := make(map[string]ToolStats, len(mc.toolStats))
	for k, v := range mc.toolStats {
		tools[k] = v
	}
	return MetricsSummary{
		TurnCount:        mc.turnCount,
		TurnErrors:       mc.turnErrors,
		Escalations:      mc.escalations,
		ToolInvocations:  mc.toolInvocations,
		ToolFailures:     mc.toolFailures,
		PromptTokens:     mc.promptTokens,
		CompletionTokens: mc.completionTkns,
		ToolStats:        tools,
		TurnLatency:      calculatePercentiles(mc.turnLatency),
	}
}

func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// MetricsSummary is the JSON shape served on /metrics.
type MetricsSummary struct {
	TurnCount        int64                `json:"turn_count"`
	TurnErrors       int64                `json:"turn_errors"`
	Escalations      int64                `json:"escalations"`
	ToolInvocations  int64                `json:"tool_invocations"`
	ToolFailures     int64                `json:"tool_failures"`
	PromptTokens     int64                `json:"prompt_tokens"`
	CompletionTokens int64                `json:"completion_tokens"`
	ToolStats        map[string]ToolStats `json:"tool_stats"`
	TurnLatency      LatencyPercentiles   `json:"turn_latency"`
}

// LatencyPercentiles holds p50, p95 and p99.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.turnCount = 0
	mc.turnErrors = 0
	mc.escalations = 0
	mc.toolInvocations = 0
	mc.toolFailures = 0
	mc.promptTokens = 0
	mc.completionTkns = 0
	mc.turnLatency = mc.turnLatency[:0]
	mc.toolStats = make(map[string]ToolStats)
}
