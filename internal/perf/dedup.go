package perf

import (
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Deduplicator collapses identical concurrent executions into one run.
// Followers receive a copy of the leader's result marked deduplicated.
type Deduplicator struct {
	group singleflight.Group
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Do runs fn once per in-flight identical key. The bool reports whether this
// caller shared another caller's execution. Failures are carried inside the
// result, so every caller of a shared run sees the same outcome.
//
// Leadership is detected by whether this caller's closure actually ran:
// singleflight reports shared=true for every participant of a collapsed
// call, the leader included, so it cannot distinguish the executing caller.
func (d *Deduplicator) Do(key uint64, fn func() *models.ExecutionResult) (*models.ExecutionResult, bool) {
	executed := false
	v, _, _ := d.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		executed = true
		return fn(), nil
	})

	result, _ := v.(*models.ExecutionResult)
	if result == nil {
		return nil, !executed
	}
	if executed {
		return result, false
	}

	// Copy so followers do not mutate the leader's result.
	out := *result
	if result.Response != nil {
		resp := *result.Response
		resp.Metadata = make(map[string]interface{}, len(result.Response.Metadata)+1)
		for k, val := range result.Response.Metadata {
			resp.Metadata[k] = val
		}
		resp.Metadata["deduplicated"] = true
		out.Response = &resp
	}
	return &out, true
}

// Forget drops the in-flight entry for a key so the next identical call
// executes fresh.
func (d *Deduplicator) Forget(key uint64) {
	d.group.Forget(strconv.FormatUint(key, 16))
}
