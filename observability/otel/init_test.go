package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken,=x, tenant=usv ")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "usv"}, got)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv(envEndpoint, "http://collector:4318")
	t.Setenv(envHeaders, "x-token=t1")
	cfg := ApplyEnv(Config{Endpoint: "localhost:4318", Headers: map[string]string{"a": "b"}})
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.True(t, cfg.Insecure)
	require.Equal(t, map[string]string{"a": "b", "x-token": "t1"}, cfg.Headers)

	t.Setenv(envInsecure, "false")
	require.False(t, ApplyEnv(cfg).Insecure)
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "usvd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Tracer())
}
