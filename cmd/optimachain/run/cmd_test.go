package run

import (
	"context"
	"testing"
	"time"

	"github.com/optimachain/optimachain/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.InMemory = true
	cfg.API.Address = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, serve(ctx, &cfg, zap.NewNop()))
}

func TestRunRejectsMissingConfig(t *testing.T) {
	c := Command()
	c.SetArgs([]string{"--config", "does-not-exist.yaml"})
	require.Error(t, c.ExecuteContext(context.Background()))
}
