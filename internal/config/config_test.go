package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "stdio", cfg.Transport.Mode)
	require.Equal(t, 120, cfg.Lease.TTLSeconds)
	require.Equal(t, 3, cfg.Lease.WaitBoundSeconds)
	require.Equal(t, 40, cfg.Context.HistoryLimit)
	require.Equal(t, 8000, cfg.Context.TokenLimit)
	require.Equal(t, "assistant", cfg.Context.MergeSummaryRole)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOOM_TRANSPORT", "http")
	t.Setenv("LOOM_SERVER_PORT", "9090")
	t.Setenv("LOOM_LEASE_TTL_SECONDS", "45")
	t.Setenv("LOOM_MERGE_SUMMARY_ROLE", "user")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http", cfg.Transport.Mode)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 45, cfg.Lease.TTLSeconds)
	require.Equal(t, "user", cfg.Context.MergeSummaryRole)
}

func TestLoad_LeaseTTLClampedToMinimum(t *testing.T) {
	t.Setenv("LOOM_LEASE_TTL_SECONDS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, minLeaseTTLSeconds, cfg.Lease.TTLSeconds)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("LOOM_SERVER_PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownMergeRole(t *testing.T) {
	t.Setenv("LOOM_MERGE_SUMMARY_ROLE", "narrator")
	_, err := Load()
	require.Error(t, err)
}
