package llm

import (
	"sync"
)

// Pricing per 1M tokens
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
}

// CalculateCost returns the estimated USD cost; unknown models cost 0.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*pricing.InputPer1M +
		float64(completionTokens)/1_000_000*pricing.OutputPer1M
}

// CostTracker accumulates token usage over a process lifetime.
type CostTracker struct {
	mu           sync.Mutex
	totalCost    float64
	totalTokens  int64
	requestCount int64
}

func NewCostTracker() *CostTracker {
	return &CostTracker{}
}

func (t *CostTracker) Track(model string, inputTokens, outputTokens int) float64 {
	cost := CalculateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	t.totalCost += cost
	t.totalTokens += int64(inputTokens + outputTokens)
	t.requestCount++
	t.mu.Unlock()

	return cost
}

type CostStats struct {
	TotalCost         float64 `json:"total_cost"`
	TotalTokens       int64   `json:"total_tokens"`
	RequestCount      int64   `json:"request_count"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

func (t *CostTracker) Stats() CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := CostStats{
		TotalCost:    t.totalCost,
		TotalTokens:  t.totalTokens,
		RequestCount: t.requestCount,
	}
	if t.requestCount > 0 {
		s.AvgCostPerRequest = t.totalCost / float64(t.requestCount)
	}
	return s
}
