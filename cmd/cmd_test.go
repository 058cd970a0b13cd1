package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftworker/config"
	"craftworker/core/auth"
	"craftworker/model"
	"craftworker/storage"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"server", "probe", "minio", "redis", "jobs"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestBuildStore(t *testing.T) {
	doer := auth.NewClient(nil, nil)

	store, err := buildStore(context.Background(), &config.Config{StorageDriver: "service", StorageServiceURL: "http://storage"}, doer)
	require.NoError(t, err)
	assert.IsType(t, &storage.ServiceClient{}, store)

	_, err = buildStore(context.Background(), &config.Config{StorageDriver: "tape"}, doer)
	assert.Error(t, err)
}

func TestDurationCommandRequiresFiles(t *testing.T) {
	assert.Error(t, probeCmd.Args(probeCmd, nil))
}

func TestCheckDistinctDirs(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		CacheDir:   base + "/cache",
		ScratchDir: base + "/scratch",
		InputDir:   base + "/inputs",
	}
	assert.NoError(t, checkDistinctDirs(cfg))

	cfg.ScratchDir = base + "/cache/"
	err := checkDistinctDirs(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_DIR and SCRATCH_DIR")

	cfg.ScratchDir = base + "/scratch"
	cfg.InputDir = base + "/scratch"
	assert.Error(t, checkDistinctDirs(cfg))
}

func TestPrintJobTable(t *testing.T) {
	var buf bytes.Buffer
	printJobTable(&buf, nil)
	assert.Equal(t, "No jobs recorded\n", buf.String())

	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	buf.Reset()
	printJobTable(&buf, []*model.JobRecord{
		{JobID: "3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01", State: model.StateCompleted, FileCount: 3, CraftID: "craft-1", StartedAt: started},
		{JobID: "7b1e2d3c-4a5f-4e6d-8c7b-9a0f1e2d3c4b", State: model.StateBusy, ErrorName: "WorkerBusyError", StartedAt: started},
	})
	out := buf.String()
	assert.Contains(t, out, "craft-1")
	assert.Contains(t, out, "busy")
	assert.Contains(t, out, "WorkerBusyError")
	assert.Contains(t, out, "2024-06-01 09:00:00")
}

func TestPrintJobDetail(t *testing.T) {
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	var buf bytes.Buffer
	printJobDetail(&buf, &model.JobRecord{
		JobID: "3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01", Name: "ep", State: model.StateFailed,
		ErrorName: "DecodeError", StartedAt: started, FinishedAt: &finished,
	})
	assert.Contains(t, buf.String(), "(1m30s)")
	assert.Contains(t, buf.String(), "Error:    DecodeError")
	assert.NotContains(t, buf.String(), "Craft:")
}
