package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, NewHealthy("svc", "ok").IsHealthy())
	assert.True(t, NewDegraded("svc", "starting").IsDegraded())
	assert.True(t, NewUnhealthy("svc", "down").IsUnhealthy())
	assert.False(t, NewUnhealthy("svc", "down").IsHealthy())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{
			name: "empty is healthy",
			subs: nil,
			want: StateHealthy,
		},
		{
			name: "all healthy",
			subs: []Status{NewHealthy("a", ""), NewHealthy("b", "")},
			want: StateHealthy,
		},
		{
			name: "one degraded",
			subs: []Status{NewHealthy("a", ""), NewDegraded("b", "")},
			want: StateDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			subs: []Status{NewDegraded("a", ""), NewUnhealthy("b", "")},
			want: StateUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}
