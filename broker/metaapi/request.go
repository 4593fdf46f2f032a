package metaapi

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/tradejournal/broker"
)

// Options are deployment settings that come from configuration rather
// than from the user.
type Options struct {
	Region string
	Magic  int64
}

// accountPayload is the provisioning body.
type accountPayload struct {
	Login    string   `json:"login"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	Server   string   `json:"server"`
	Platform string   `json:"platform"`
	Keywords []string `json:"keywords"`
	Magic    int64    `json:"magic"`
	Region   string   `json:"region,omitempty"`
}

// Request is one logical provisioning attempt. The body is serialized once
// so every retry round sends identical bytes under the same token.
type Request struct {
	token string
	login string
	body  []byte
}

// NewRequest expects normalized, validated credentials.
func NewRequest(c broker.Credentials, opts Options, token string) (*Request, error) {
	if token == "" {
		return nil, fmt.Errorf("transaction token is required")
	}
	body, err := json.Marshal(accountPayload{
		Login:    c.AccountNumber,
		Password: c.Password,
		Name:     c.BrokerName,
		Server:   c.Server,
		Platform: c.Platform,
		Keywords: []string{c.BrokerName},
		Magic:    opts.Magic,
		Region:   opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("encode provisioning request: %w", err)
	}
	return &Request{token: token, login: c.AccountNumber, body: body}, nil
}

// Token is the correlation token sent as the transaction-id header.
func (r *Request) Token() string { return r.token }

// Login is the MetaTrader login, safe to log.
func (r *Request) Login() string { return r.login }

// Body returns a copy of the serialized payload.
func (r *Request) Body() []byte {
	b := make([]byte, len(r.body))
	copy(b, r.body)
	return b
}
