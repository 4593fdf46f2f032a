package provision

import (
	"testing"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/broker/metaapi"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeOutcome(t *testing.T) {
	assert.Equal(t, broker.StatusActive, NormalizeOutcome(OutcomeSuccess))
	assert.Equal(t, broker.StatusError, NormalizeOutcome(OutcomeFailure))
	assert.Equal(t, broker.StatusError, NormalizeOutcome(OutcomeTimeout))
	assert.Equal(t, broker.StatusError, NormalizeOutcome(OutcomeError))
	assert.Equal(t, broker.StatusError, NormalizeOutcome(OutcomeKind(0)))
}

func TestNormalizeResult(t *testing.T) {
	tests := []struct {
		kind metaapi.Kind
		want broker.Status
	}{
		{metaapi.KindDeployed, broker.StatusActive},
		{metaapi.KindPending, broker.StatusInitializing},
		{metaapi.KindFailed, broker.StatusError},
		{metaapi.KindRemoteError, broker.StatusError},
		{metaapi.KindProtocolError, broker.StatusError},
		{metaapi.Kind(99), broker.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeResult(metaapi.Result{Kind: tt.kind}))
		})
	}
}

func TestNormalizeState(t *testing.T) {
	tests := map[string]broker.Status{
		"DEPLOYED":        broker.StatusActive,
		" deployed ":      broker.StatusActive,
		"DEPLOYING":       broker.StatusInitializing,
		"CREATED":         broker.StatusInitializing,
		"DEPLOY_FAILED":   broker.StatusError,
		"REDEPLOY_FAILED": broker.StatusError,
		"UNDEPLOYED":      broker.StatusDisconnected,
		"UNDEPLOYING":     broker.StatusDisconnected,
		"WEIRD":           broker.StatusError,
		"":                broker.StatusError,
	}
	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			assert.Equal(t, want, NormalizeState(raw))
		})
	}
}
