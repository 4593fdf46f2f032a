package metaapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() broker.Credentials {
	return broker.Credentials{
		AccountNumber: "5012345",
		Password:      "s3cret",
		BrokerName:    "ICMarkets",
		Platform:      "mt5",
		Server:        "ICMarketsSC-Demo",
	}
}

func testRequest(t *testing.T) *Request {
	t.Helper()
	req, err := NewRequest(testCreds(), Options{Region: "london", Magic: 123456}, "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return req
}

func TestNewRequestPayload(t *testing.T) {
	req := testRequest(t)

	var got map[string]any
	require.NoError(t, json.Unmarshal(req.Body(), &got))
	assert.Equal(t, "5012345", got["login"])
	assert.Equal(t, "s3cret", got["password"])
	assert.Equal(t, "ICMarkets", got["name"])
	assert.Equal(t, "ICMarketsSC-Demo", got["server"])
	assert.Equal(t, "mt5", got["platform"])
	assert.Equal(t, []any{"ICMarkets"}, got["keywords"])
	assert.Equal(t, 123456.0, got["magic"])
	assert.Equal(t, "london", got["region"])

	b := req.Body()
	b[0] = 'x'
	assert.NotEqual(t, b, req.Body(), "Body must return a copy")

	_, err := NewRequest(testCreds(), Options{}, "")
	assert.Error(t, err)
}

func TestSubmitSendsHeadersAndBody(t *testing.T) {
	req := testRequest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/current/accounts", r.URL.Path)
		assert.Equal(t, "api-token", r.Header.Get("auth-token"))
		assert.Equal(t, req.Token(), r.Header.Get("transaction-id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, req.Body(), body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"acc-1","state":"DEPLOYED"}`))
	}))
	defer server.Close()

	client := New(Config{ProvisioningURL: server.URL + "/", Token: "api-token", Timeout: 5 * time.Second})
	res, err := client.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, KindDeployed, res.Kind)
	assert.Equal(t, "acc-1", res.RemoteID)
	assert.Equal(t, "DEPLOYED", res.RawState)
}

func TestSubmitTranslatesDetailCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Authentication failed","details":"E_AUTH"}`))
	}))
	defer server.Close()

	client := New(Config{ProvisioningURL: server.URL, Token: "api-token"})
	res, err := client.Submit(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, KindRemoteError, res.Kind)
	assert.Equal(t, http.StatusUnauthorized, res.HTTPStatus)
	assert.Equal(t, "E_AUTH", res.Details)
	assert.Equal(t, "Authentication failed. Please check login/password/server", res.Message)
}

func TestSubmitPendingRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Automatic broker settings detection is in progress, please retry in 1 minute"}`))
	}))
	defer server.Close()

	client := New(Config{ProvisioningURL: server.URL})
	res, err := client.Submit(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, KindPending, res.Kind)
	assert.Equal(t, 7*time.Second, res.RetryAfter)
	assert.Empty(t, res.RemoteID)
}

func TestSubmitCancelled(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New(Config{ProvisioningURL: server.URL})
	_, err := client.Submit(ctx, testRequest(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAccountState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/current/accounts/acc-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"_id":"acc-9","state":"UNDEPLOYED"}`))
	}))
	defer server.Close()

	client := New(Config{ClientURL: server.URL, Token: "api-token"})
	res, err := client.AccountState(context.Background(), "acc-9")
	require.NoError(t, err)
	assert.Equal(t, "acc-9", res.RemoteID)
	assert.Equal(t, "UNDEPLOYED", res.RawState)

	_, err = New(Config{}).AccountState(context.Background(), "acc-9")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		status     int
		header     http.Header
		body       string
		wantKind   Kind
		wantID     string
		wantMsg    string
		wantRetry  time.Duration
		wantDetail string
	}{
		{
			name: "created and deployed", status: 201,
			body:     `{"id":"acc-1","state":"DEPLOYED"}`,
			wantKind: KindDeployed, wantID: "acc-1",
		},
		{
			name: "created without state", status: 201,
			body:     `{"id":"acc-2"}`,
			wantKind: KindDeployed, wantID: "acc-2",
		},
		{
			name: "ok deploying is pending", status: 200,
			body:     `{"id":"acc-3","state":"DEPLOYING"}`,
			wantKind: KindPending, wantID: "acc-3",
		},
		{
			name: "retry hint in message", status: 200,
			header:   http.Header{"Retry-After": []string{"12"}},
			body:     `{"id":"acc-4","state":"?","message":"Please retry later"}`,
			wantKind: KindPending, wantID: "acc-4", wantRetry: 12 * time.Second,
		},
		{
			name: "deploy failed", status: 200,
			body:     `{"id":"acc-5","state":"DEPLOY_FAILED"}`,
			wantKind: KindFailed, wantID: "acc-5", wantMsg: "account deployment failed (DEPLOY_FAILED)",
		},
		{
			name: "unrecognized state", status: 200,
			body:     `{"id":"acc-6","state":"WEIRD"}`,
			wantKind: KindFailed, wantID: "acc-6", wantMsg: `unexpected provisioning state "WEIRD"`,
		},
		{
			name: "accepted empty body", status: 202,
			header:   http.Header{"Retry-After": []string{now.Add(90 * time.Second).Format(http.TimeFormat)}},
			wantKind: KindPending, wantRetry: 90 * time.Second,
		},
		{
			name: "accepted with id", status: 202,
			body:     `{"id":"acc-7","state":"DEPLOYING"}`,
			wantKind: KindPending, wantID: "acc-7",
		},
		{
			name: "accepted garbage", status: 202,
			body:     `<html>`,
			wantKind: KindProtocolError,
		},
		{
			name: "ok garbage", status: 200,
			body:     `not json`,
			wantKind: KindProtocolError,
		},
		{
			name: "ok deployed without id", status: 200,
			body:     `{"state":"DEPLOYED"}`,
			wantKind: KindProtocolError, wantMsg: "provisioning response is missing the account id",
		},
		{
			name: "created without id or state", status: 201,
			body:     `{}`,
			wantKind: KindProtocolError, wantMsg: "provisioning response is missing the account id",
		},
		{
			name: "retry message without id", status: 200,
			header:   http.Header{"Retry-After": []string{"5"}},
			body:     `{"message":"Account is being deployed, please retry later"}`,
			wantKind: KindPending, wantRetry: 5 * time.Second,
		},
		{
			name: "deploying without id", status: 200,
			body:     `{"state":"DEPLOYING"}`,
			wantKind: KindPending,
		},
		{
			name: "deploy failed without id", status: 200,
			body:     `{"state":"DEPLOY_FAILED"}`,
			wantKind: KindFailed, wantMsg: "account deployment failed (DEPLOY_FAILED)",
		},
		{
			name: "server not found", status: 400,
			body:     `{"message":"x","details":"E_SRV_NOT_FOUND"}`,
			wantKind: KindRemoteError, wantDetail: "E_SRV_NOT_FOUND",
			wantMsg: "Server file not found for specified broker/server",
		},
		{
			name: "timezone detection", status: 400,
			body:     `{"details":"E_SERVER_TIMEZONE"}`,
			wantKind: KindRemoteError, wantDetail: "E_SERVER_TIMEZONE",
			wantMsg: "Settings detection in progress or failed. Please retry later",
		},
		{
			name: "validation details object", status: 400,
			body:     `{"message":"Validation failed","details":[{"parameter":"login"}]}`,
			wantKind: KindRemoteError, wantDetail: `[{"parameter":"login"}]`, wantMsg: "Validation failed",
		},
		{
			name: "bare 500", status: 500,
			body:     `oops`,
			wantKind: KindRemoteError, wantMsg: "provisioning request failed: 500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			res := classify(tt.status, h, []byte(tt.body), "", now)
			assert.Equal(t, tt.wantKind, res.Kind, res.Message)
			assert.Equal(t, tt.wantID, res.RemoteID)
			assert.Equal(t, tt.status, res.HTTPStatus)
			assert.Equal(t, tt.wantRetry, res.RetryAfter)
			assert.Equal(t, tt.wantDetail, res.Details)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Message)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 5*time.Second, parseRetryAfter(" 5 ", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
