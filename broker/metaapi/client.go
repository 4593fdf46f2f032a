package metaapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const accountsPath = "/users/current/accounts"

// Config holds what the client needs to reach the provider.
type Config struct {
	ProvisioningURL string // e.g. https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai
	ClientURL       string // e.g. https://mt-client-api-v1.agiliumtrade.agiliumtrade.ai
	Token           string
	Timeout         time.Duration
	Logger          *zap.Logger
	HTTPClient      *http.Client
}

// Client performs single provisioning rounds. It has no retry policy of its
// own and never touches storage.
type Client struct {
	provisioningURL string
	clientURL       string
	http            *resty.Client
	log             *zap.Logger
	now             func() time.Time
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	rc := resty.NewWithClient(hc).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("auth-token", cfg.Token)

	return &Client{
		provisioningURL: strings.TrimRight(cfg.ProvisioningURL, "/"),
		clientURL:       strings.TrimRight(cfg.ClientURL, "/"),
		http:            rc,
		log:             log,
		now:             time.Now,
	}
}

// Submit sends req once and classifies the response. The error return is
// reserved for transport failures and cancellation; anything the provider
// answers is a Result.
func (c *Client) Submit(ctx context.Context, req *Request) (Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("transaction-id", req.Token()).
		SetBody(req.body).
		Post(c.provisioningURL + accountsPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("provisioning request: %w", err)
	}

	res := classify(resp.StatusCode(), resp.Header(), resp.Body(), "", c.now())
	c.log.Debug("provisioning round",
		zap.String("transaction_id", req.Token()),
		zap.String("login", req.Login()),
		zap.Int("http_status", resp.StatusCode()),
		zap.Stringer("kind", res.Kind),
		zap.String("state", res.RawState),
		zap.String("remote_id", res.RemoteID),
	)
	return res, nil
}

// AccountState reads the current provider state of an existing account.
func (c *Client) AccountState(ctx context.Context, remoteID string) (Result, error) {
	if c.clientURL == "" {
		return Result{}, fmt.Errorf("client api url is not configured")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.clientURL + accountsPath + "/" + url.PathEscape(remoteID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("account state request: %w", err)
	}

	res := classify(resp.StatusCode(), resp.Header(), resp.Body(), remoteID, c.now())
	c.log.Debug("account state",
		zap.String("remote_id", remoteID),
		zap.Int("http_status", resp.StatusCode()),
		zap.Stringer("kind", res.Kind),
		zap.String("state", res.RawState),
	)
	return res, nil
}
