package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "DICOMNET", cfg.AETitle)
	require.Equal(t, uint32(16384), cfg.MaxPDULength)
	require.Equal(t, "block", cfg.BackpressurePolicy)
	require.Equal(t, 16, cfg.WorkerPoolSizes.Execute)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.Equal(t, "disk", cfg.BlobBackend)
	require.Equal(t, "./data/blobs", cfg.BlobDSN)
}

func TestLoad_RejectsInvalidBlobBackend(t *testing.T) {
	t.Setenv("DICOMNET_BLOB_BACKEND", "s3")
	_, err := Load("", nil)
	require.Error(t, err)
}

func TestLoad_ReadsMoveDestinationsFromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "dicomnet-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("move_destinations:\n  DEST: 10.0.0.5:4242\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name(), nil)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:4242", cfg.MoveDestinations["DEST"])
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("DICOMNET_AE_TITLE", "TESTSCP")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "TESTSCP", cfg.AETitle)
}

func TestLoad_RejectsInvalidBackpressurePolicy(t *testing.T) {
	t.Setenv("DICOMNET_BACKPRESSURE_POLICY", "explode")
	_, err := Load("", nil)
	require.Error(t, err)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load("/nonexistent/path/does-not-exist.yaml", nil)
	require.NoError(t, err)
}

func TestLoad_ReadsFileValues(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "dicomnet-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("ae_title: FILESCP\nqueue_depth: 512\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name(), nil)
	require.NoError(t, err)
	require.Equal(t, "FILESCP", cfg.AETitle)
	require.Equal(t, 512, cfg.QueueDepth)
}
