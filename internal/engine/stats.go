package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuda/tether/internal/domain"
)

const statsWindow = 24 * time.Hour

// Stats summarizes current state and the last 24 hours of activity.
func (e *Engine) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	repos := e.store.Repos()
	now := e.now()
	since := now.Add(-statsWindow)

	policies, err := repos.Policies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.Stats: %w", err)
	}
	agents, err := repos.Agents.List(ctx, domain.AgentFilter{Status: domain.AgentStatusActive})
	if err != nil {
		return nil, fmt.Errorf("engine.Stats: %w", err)
	}
	keys, err := repos.Keys.List(ctx, domain.KeyFilter{Status: domain.KeyStatusActive})
	if err != nil {
		return nil, fmt.Errorf("engine.Stats: %w", err)
	}
	logs, err := repos.Executions.List(ctx, domain.ExecutionFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("engine.Stats: %w", err)
	}
	spent, err := repos.Spend.SumUSD(ctx, since, now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("engine.Stats: %w", err)
	}

	s := &domain.DashboardStats{
		ActiveAgents:    len(agents),
		ActiveKeys:      len(keys),
		TodayExecutions: len(logs),
		SuccessRate:     100,
		TotalSpendToday: "$" + spent.StringFixed(2),
	}
	for _, p := range policies {
		if p.Status == domain.PolicyStatusActive {
			s.ActivePolicies++
		}
	}
	succeeded := 0
	for _, l := range logs {
		switch l.Result {
		case domain.ResultSuccess:
			succeeded++
		case domain.ResultDenied:
			s.Violations24h++
		}
	}
	if len(logs) > 0 {
		s.SuccessRate = float64(succeeded) / float64(len(logs)) * 100
	}
	return s, nil
}
