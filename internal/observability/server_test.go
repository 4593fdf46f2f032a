package observability

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeExposesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	ProvisioningOutcomes.WithLabelValues("success").Inc()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tradejournal_provisioning_outcomes_total{outcome="success"}`)
}

func TestServeBadAddress(t *testing.T) {
	_, err := Serve(context.Background(), "not-an-address")
	assert.Error(t, err)
}
