package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

func startShield(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Superposition.AutoRotationInterval = 0
	cfg.Superposition.CoherenceCheckInterval = time.Hour

	shield, err := orchestrator.New(context.Background(), cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithClock(func() time.Time { return time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(logger)))
	RegisterShieldServer(srv, NewServer(shield, logger))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		shield.Close()
	})
	return NewClientWithConn(conn)
}

func fromAddr(ip string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-forwarded-for", ip)
}

func TestProtectAndObserveRoundTrip(t *testing.T) {
	c := startShield(t)
	ctx := fromAddr("203.0.113.7")

	res, err := c.Protect(ctx, ProtectRequest{
		Data:   map[string]any{"balance": 100},
		Policy: orchestrator.Policy{StateCount: 3},
		UserID: "owner",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 3, res.StateCount)
	require.NotNil(t, res.Proof)

	got, err := c.Observe(ctx, ObserveRequest{
		ID:        res.ID,
		UserID:    "alice",
		Token:     "a-long-enough-token",
		UserAgent: "Mozilla/5.0",
		DeviceID:  "laptop",
		Proof:     res.Proof,
	})
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, map[string]any{"balance": float64(100)}, got.Data)
	assert.Equal(t, res.CorrelationID, got.CorrelationID)

	m, err := c.Metrics(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalStates)
	assert.Equal(t, int64(1), m.ObservationCount)
}

func TestObserveRefusedIsAResult(t *testing.T) {
	c := startShield(t)
	ctx := fromAddr("198.51.100.9")
	res, err := c.Protect(ctx, ProtectRequest{Data: map[string]any{"balance": 100}})
	require.NoError(t, err)

	got, err := c.Observe(ctx, ObserveRequest{ID: res.ID, UserID: "mallory", Token: "short"})
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, state.Poisoned, got.State)
	require.NotNil(t, got.Defense)
}

func TestErrorsKeepTheirSentinels(t *testing.T) {
	c := startShield(t)
	ctx := context.Background()

	_, err := c.Observe(ctx, ObserveRequest{ID: "missing", UserID: "alice", Token: "a-long-enough-token"})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = c.Observe(ctx, ObserveRequest{})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = c.Protect(ctx, ProtectRequest{Data: 1, Policy: orchestrator.Policy{StateCount: 65}})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = c.Restore(ctx, "anything")
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestDestroyRemovesItem(t *testing.T) {
	c := startShield(t)
	ctx := context.Background()
	res, err := c.Protect(ctx, ProtectRequest{Data: "secret"})
	require.NoError(t, err)

	require.NoError(t, c.Destroy(ctx, res.ID))
	_, err = c.Metrics(ctx, res.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestToStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errs.InvalidArgument("bad"), codes.InvalidArgument},
		{fmt.Errorf("%w: %w", errs.ErrDataObservationFailed, errs.NotFound("item x")), codes.NotFound},
		{fmt.Errorf("key: %w", errs.ErrKeyNotFound), codes.NotFound},
		{fmt.Errorf("add: %w", errs.ErrCollapsed), codes.FailedPrecondition},
		{fmt.Errorf("client: %w", errs.ErrNotInitialized), codes.FailedPrecondition},
		{fmt.Errorf("decrypt: %w", errs.ErrCircuitOpen), codes.Unavailable},
		{fmt.Errorf("mac: %w", errs.ErrIntegrityViolation), codes.DataLoss},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	assert.NoError(t, toStatus(nil))
}
