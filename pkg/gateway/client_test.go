package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/txflow/internal/gatewaytest"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

var fastRetry = gateway.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestClient_BuildRegisterStatus(t *testing.T) {
	gw := gatewaytest.Start(t)
	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry))
	ctx := context.Background()

	utx, err := c.BuildTx(ctx, gateway.BuildRequest{TxType: "MINT", Params: map[string]any{"amount": 5}})
	require.NoError(t, err)
	assert.Equal(t, "MINT", utx.TxType)
	assert.NotEmpty(t, utx.Payload)
	assert.Len(t, utx.ContentHashes["params"], 64)

	res, err := c.RegisterTx(ctx, gateway.RegisterRequest{TxHash: "abc123", TxType: "MINT"})
	require.NoError(t, err)
	assert.True(t, res.RequiresDBUpdate)

	st, err := c.GetStatus(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", st.TxHash)
	assert.Equal(t, gateway.TxStatePending, st.State)
}

func TestClient_GetStatusNotFound(t *testing.T) {
	gw := gatewaytest.Start(t)
	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry))

	_, err := c.GetStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))
	assert.Equal(t, 1, gw.Hits("/tx/status/{hash}"), "404 must not be retried")

	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "NOT_FOUND", gwErr.Code)
	assert.NotEmpty(t, gwErr.RequestID)
}

func TestClient_RetriesTransientGet(t *testing.T) {
	gw := gatewaytest.Start(t)
	gw.SetState("h1", gateway.TxStateConfirmed, "")
	gw.FailNext("/tx/status/{hash}", http.StatusServiceUnavailable, 2)

	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry))
	st, err := c.GetStatus(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, gateway.TxStateConfirmed, st.State)
	assert.Equal(t, 3, gw.Hits("/tx/status/{hash}"))
}

func TestClient_DoesNotRetryPost(t *testing.T) {
	gw := gatewaytest.Start(t)
	gw.FailNext("/tx/register", http.StatusServiceUnavailable, 1)

	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry))
	_, err := c.RegisterTx(context.Background(), gateway.RegisterRequest{TxHash: "h1", TxType: "MINT"})
	require.Error(t, err)
	assert.Equal(t, 1, gw.Hits("/tx/register"))
	assert.False(t, gw.Registered("h1"))
}

func TestClient_ListPending(t *testing.T) {
	gw := gatewaytest.Start(t, gatewaytest.WithToken("jwt"))
	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry), gateway.WithToken(func() string { return "jwt" }))
	ctx := context.Background()

	list, err := c.ListPending(ctx)
	require.NoError(t, err, "404 means zero pending")
	assert.Empty(t, list)
	assert.NotNil(t, list)

	gw.SetState("a", gateway.TxStatePending, "")
	gw.SetState("b", gateway.TxStateConfirmed, "")
	gw.SetState("c", gateway.TxStateUpdated, "")

	list, err = c.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].TxHash)
	assert.Equal(t, "b", list[1].TxHash)
}

func TestClient_Unauthorized(t *testing.T) {
	gw := gatewaytest.Start(t, gatewaytest.WithToken("jwt"))
	c := gateway.New(gw.URL, gateway.WithRetry(fastRetry))

	_, err := c.ListPending(context.Background())
	require.Error(t, err)
	assert.True(t, gateway.IsUnauthorized(err))
}

func TestClient_ListPendingBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"tx_hash":"x","tx_type":"MINT","state":"pending"}]`))
	}))
	defer srv.Close()

	list, err := gateway.New(srv.URL).ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "x", list[0].TxHash)
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad params", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := gateway.New(srv.URL).BuildTx(context.Background(), gateway.BuildRequest{TxType: "MINT"})
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "bad params", gwErr.Message)
}

func TestClient_Subscribe(t *testing.T) {
	gw := gatewaytest.Start(t)
	gw.SetState("h1", gateway.TxStatePending, "")
	c := gateway.New(gw.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, "h1")
	require.NoError(t, err)
	defer sub.Close()

	st, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.TxStatePending, st.State)

	gw.SetState("h1", gateway.TxStateUpdated, "")
	st, err = sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.TxStateUpdated, st.State)
	assert.NotNil(t, st.ConfirmedAt)

	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, gateway.ErrStreamClosed)
}

func TestClient_SubscribeCloseWithUnreadUpdates(t *testing.T) {
	gw := gatewaytest.Start(t)
	gw.SetState("h1", gateway.TxStatePending, "")
	c := gateway.New(gw.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, "h1")
	require.NoError(t, err)

	// Fill the client buffer so the reader is parked on a send.
	for i := 0; i < 32; i++ {
		gw.Push(gateway.TxStatus{TxHash: "h1", State: gateway.TxStatePending})
	}
	time.Sleep(100 * time.Millisecond)
	sub.Close()

	for {
		_, err = sub.Recv(ctx)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, gateway.ErrStreamClosed)
	assert.ErrorIs(t, sub.Err(), gateway.ErrStreamClosed)
}

func TestClient_SubscribeUnsupported(t *testing.T) {
	gw := gatewaytest.Start(t, gatewaytest.WithoutStreaming())
	_, err := gateway.New(gw.URL).Subscribe(context.Background(), "h1")
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))
}
