package otel

import (
	"context"
	"testing"

	"github.com/mrzor/syscall-analyzer/internal/config"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProviderIsLazy(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := &config.OTELConfig{
		ServiceName:        "syscall-analyzer-test",
		ResourceAttributes: "env=test",
		ExporterEndpoint:   "127.0.0.1:1",
	}

	tp, err := InitProvider(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NotNil(t, tp)

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, "127.0.0.1:1", hook.Entries[0].Data["endpoint"])

	// Nothing was exported, so nothing has to reach the endpoint.
	assert.NoError(t, ShutdownProvider(context.Background(), tp))
}

func TestShutdownNilProvider(t *testing.T) {
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}
