package provision

import (
	"strings"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/broker/metaapi"
)

// NormalizeOutcome maps a finished sequence to the local status. Only
// success is ACTIVE.
func NormalizeOutcome(k OutcomeKind) broker.Status {
	if k == OutcomeSuccess {
		return broker.StatusActive
	}
	return broker.StatusError
}

// NormalizeResult maps a single round. A pending round means the account
// is still initializing.
func NormalizeResult(res metaapi.Result) broker.Status {
	switch res.Kind {
	case metaapi.KindDeployed:
		return broker.StatusActive
	case metaapi.KindPending:
		return broker.StatusInitializing
	}
	return broker.StatusError
}

// NormalizeState maps a raw provider state read outside a provisioning
// sequence. Unknown states are errors, never success.
func NormalizeState(raw string) broker.Status {
	state := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case state == metaapi.StateDeployed:
		return broker.StatusActive
	case metaapi.IsFailedState(state):
		return broker.StatusError
	case metaapi.IsPendingState(state):
		return broker.StatusInitializing
	case state == metaapi.StateUndeployed || state == metaapi.StateUndeploying:
		return broker.StatusDisconnected
	}
	return broker.StatusError
}
