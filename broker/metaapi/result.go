package metaapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a single provisioning round.
type Kind int

const (
	KindDeployed Kind = iota + 1
	KindFailed
	KindPending
	KindRemoteError
	KindProtocolError
)

func (k Kind) String() string {
	switch k {
	case KindDeployed:
		return "deployed"
	case KindFailed:
		return "failed"
	case KindPending:
		return "pending"
	case KindRemoteError:
		return "remote_error"
	case KindProtocolError:
		return "protocol_error"
	}
	return "unknown"
}

// Result is the tagged outcome of one round. Which fields are set depends
// on Kind:
//
//	Deployed       RemoteID, RawState
//	Failed         RawState, Message, RemoteID if known
//	Pending        RemoteID and RawState if sent, RetryAfter if suggested
//	RemoteError    HTTPStatus, Message, Details
//	ProtocolError  Message
type Result struct {
	Kind       Kind
	RemoteID   string
	RawState   string
	Message    string
	Details    string
	HTTPStatus int
	RetryAfter time.Duration
}

// Provider states. The vocabulary is open; anything not listed here is
// treated as unexpected.
const (
	StateDeployed    = "DEPLOYED"
	StateCreated     = "CREATED"
	StateDraft       = "DRAFT"
	StateDeploying   = "DEPLOYING"
	StateRedeploying = "REDEPLOYING"
	StateUndeploying = "UNDEPLOYING"
	StateUndeployed  = "UNDEPLOYED"
)

var pendingStates = map[string]bool{
	StateCreated:     true,
	StateDraft:       true,
	StateDeploying:   true,
	StateRedeploying: true,
}

// IsPendingState reports whether raw is an in-progress deployment state.
func IsPendingState(raw string) bool {
	return pendingStates[strings.ToUpper(raw)]
}

// IsFailedState reports whether raw carries the provider's failure marker.
func IsFailedState(raw string) bool {
	return strings.Contains(strings.ToUpper(raw), "FAIL")
}

// detailMessages translates provider detail codes into user-facing text.
var detailMessages = map[string]string{
	"E_SRV_NOT_FOUND":   "Server file not found for specified broker/server",
	"E_AUTH":            "Authentication failed. Please check login/password/server",
	"E_SERVER_TIMEZONE": "Settings detection in progress or failed. Please retry later",
	"E_RESOURCE_SLOTS":  "Not enough resource slots to deploy the account",
	"E_NO_SYMBOLS":      "No symbols found for the account. Please check the server name",
}

// DetailMessage returns the user-facing text for a provider detail code.
func DetailMessage(code string) (string, bool) {
	msg, ok := detailMessages[code]
	return msg, ok
}

type envelope struct {
	ID      string          `json:"id"`
	AltID   string          `json:"_id"`
	State   string          `json:"state"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func (e envelope) remoteID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.AltID
}

// details flattens the provider's details field, which is either a code
// string or a structured validation payload.
func (e envelope) details() string {
	if len(e.Details) == 0 || bytes.Equal(e.Details, []byte("null")) {
		return ""
	}
	var code string
	if err := json.Unmarshal(e.Details, &code); err == nil {
		return code
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Details); err != nil {
		return string(e.Details)
	}
	return buf.String()
}

// classify turns one HTTP response into exactly one Result. knownID fills
// in the remote id for reads of an account whose id the caller already
// has.
func classify(status int, header http.Header, body []byte, knownID string, now time.Time) Result {
	trimmed := bytes.TrimSpace(body)

	switch {
	case status == http.StatusAccepted:
		res := Result{Kind: KindPending, HTTPStatus: status, RemoteID: knownID}
		if len(trimmed) > 0 {
			var env envelope
			if err := json.Unmarshal(trimmed, &env); err != nil {
				return protocolError(status, err)
			}
			if id := env.remoteID(); id != "" {
				res.RemoteID = id
			}
			res.RawState = env.State
			res.Message = env.Message
		}
		res.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
		return res

	case status == http.StatusOK || status == http.StatusCreated:
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return protocolError(status, err)
		}
		id := env.remoteID()
		if id == "" {
			id = knownID
		}
		res := classifyState(status, id, env, header, now)
		// Pending and Failed may omit the id; a deployment may not.
		if id == "" && res.Kind == KindDeployed {
			return Result{Kind: KindProtocolError, HTTPStatus: status, RawState: env.State, Message: "provisioning response is missing the account id"}
		}
		return res

	default:
		return remoteError(status, trimmed)
	}
}

func classifyState(status int, id string, env envelope, header http.Header, now time.Time) Result {
	state := strings.ToUpper(strings.TrimSpace(env.State))
	res := Result{HTTPStatus: status, RemoteID: id, RawState: env.State, Message: env.Message}

	switch {
	case state == StateDeployed:
		res.Kind = KindDeployed
	case state == "" && status == http.StatusCreated:
		res.Kind = KindDeployed
	case IsFailedState(state):
		res.Kind = KindFailed
		if res.Message == "" {
			res.Message = fmt.Sprintf("account deployment failed (%s)", env.State)
		}
	case IsPendingState(state) || strings.Contains(strings.ToLower(env.Message), "retry"):
		res.Kind = KindPending
		res.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
	default:
		res.Kind = KindFailed
		res.Message = fmt.Sprintf("unexpected provisioning state %q", env.State)
	}
	return res
}

func remoteError(status int, body []byte) Result {
	res := Result{Kind: KindRemoteError, HTTPStatus: status}

	var env envelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		res.Details = env.details()
		res.Message = env.Message
		if res.Message == "" {
			res.Message = env.Error
		}
		if msg, ok := DetailMessage(res.Details); ok {
			res.Message = msg
		}
	}
	if res.Message == "" {
		res.Message = fmt.Sprintf("provisioning request failed: %d %s", status, http.StatusText(status))
	}
	return res
}

func protocolError(status int, err error) Result {
	return Result{
		Kind:       KindProtocolError,
		HTTPStatus: status,
		Message:    fmt.Sprintf("unreadable provisioning response: %v", err),
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
