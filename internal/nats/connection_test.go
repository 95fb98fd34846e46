package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	gerrors "github.com/wehubfusion/Gorilla/pkg/errors"
)

func TestConnectionConfigValidate(t *testing.T) {
	var nilCfg *ConnectionConfig
	assert.Error(t, nilCfg.Validate())
	assert.Error(t, (&ConnectionConfig{}).Validate())
	assert.Error(t, (&ConnectionConfig{URL: "nats://x", Timeout: -time.Second}).Validate())
	assert.NoError(t, DefaultConnectionConfig("nats://localhost:4222").Validate())
}

func TestOptionsAuth(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://localhost:4222")
	base := len(cfg.options(zap.NewNop()))

	cfg.Token = "t"
	cfg.Username, cfg.Password = "u", "p"
	assert.Len(t, cfg.options(zap.NewNop()), base+1)

	cfg.Token = ""
	assert.Len(t, cfg.options(zap.NewNop()), base+1)

	cfg.Password = ""
	assert.Len(t, cfg.options(zap.NewNop()), base)
}

func TestConnectRejectsBadConfig(t *testing.T) {
	_, err := Connect(context.Background(), &ConnectionConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, gerrors.CodeValidation, gerrors.Code(err))
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConnectionConfig("nats://127.0.0.1:1")
	cfg.MaxReconnects = 0
	cfg.Timeout = 50 * time.Millisecond
	_, err := Connect(ctx, cfg, nil)
	require.Error(t, err)
}

func TestJetStreamRequiresConnection(t *testing.T) {
	_, err := JetStream(nil)
	assert.ErrorIs(t, err, gerrors.ErrNotConnected)
	assert.False(t, IsConnected(nil))
	assert.NoError(t, Close(nil))
}
