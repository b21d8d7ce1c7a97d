package agent

import (
	"fmt"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Health battery thresholds.
const (
	healthLatencyAlert     = 10 * time.Second
	healthErrorThreshold   = 20   // recent failures marking capacity trouble
	healthDegradedSuccess  = 0.5  // below this success rate → degraded
	healthMinSampleSize    = 5    // success rate only judged with enough data
)

// HealthCheck runs the fixed battery of checks for one agent type.
// Any critical test failing marks the type unhealthy; a below-threshold
// success rate marks it degraded.
func (r *Registry) HealthCheck(t models.AgentType) *models.AgentHealth {
	stats := r.factory.Stats(t)
	health := &models.AgentHealth{
		AgentType:   t,
		SuccessRate: stats.SuccessRate(),
		AvgLatency:  stats.AvgLatency,
		CheckedAt:   time.Now().UTC(),
	}

	registered := r.factory.Registered(t)
	health.Tests = append(health.Tests, models.HealthTest{
		Name:     "authentication",
		Passed:   registered,
		Critical: true,
		Detail:   detailIf(!registered, "no registration for type"),
	})

	// Connectivity: a pooled instance exists, or one can be constructed.
	connected := false
	if registered {
		if r.factory.PoolSize(t) > 0 {
			connected = true
		} else if err := r.factory.Warm(t, 1); err == nil {
			connected = true
		}
	}
	health.Tests = append(health.Tests, models.HealthTest{
		Name:     "connectivity",
		Passed:   connected,
		Critical: true,
		Detail:   detailIf(!connected, "cannot construct an instance"),
	})

	capacityOK := r.factory.PoolSize(t) < r.factory.maxPool
	health.Tests = append(health.Tests, models.HealthTest{
		Name:   "resource_capacity",
		Passed: capacityOK,
		Detail: detailIf(!capacityOK, "instance pool at maximum"),
	})

	latencyOK := stats.AvgLatency < healthLatencyAlert
	health.Tests = append(health.Tests, models.HealthTest{
		Name:   "recent_performance",
		Passed: latencyOK,
		Detail: detailIf(!latencyOK, fmt.Sprintf("avg latency %s above alert threshold", stats.AvgLatency)),
	})

	errorsOK := stats.Failures < healthErrorThreshold
	health.Tests = append(health.Tests, models.HealthTest{
		Name:   "recent_errors",
		Passed: errorsOK,
		Detail: detailIf(!errorsOK, fmt.Sprintf("%d recent failures", stats.Failures)),
	})

	health.State = models.HealthHealthy
	for _, test := range health.Tests {
		if test.Critical && !test.Passed {
			health.State = models.HealthUnhealthy
			return health
		}
	}
	if stats.Requests >= healthMinSampleSize && health.SuccessRate < healthDegradedSuccess {
		health.State = models.HealthDegraded
	} else {
		for _, test := range health.Tests {
			if !test.Passed {
				health.State = models.HealthDegraded
				break
			}
		}
	}
	return health
}

// HealthCheckAll reports health for every registered type.
func (r *Registry) HealthCheckAll() []models.AgentHealth {
	var out []models.AgentHealth
	for _, t := range r.factory.Types() {
		out = append(out, *r.HealthCheck(t))
	}
	return out
}

func detailIf(cond bool, detail string) string {
	if cond {
		return detail
	}
	return ""
}
