package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StoreBackend:             config.StoreBackendFile,
		LockBackend:              config.LockBackendFile,
		DataDir:                  t.TempDir(),
		MaxConcurrentSubmissions: 2,
		MaxRetries:               3,
		SubmitTimeout:            time.Second,
		VerifyTimeout:            time.Second,
		PollInterval:             10 * time.Millisecond,
		EnableMockPortal:         true,
		Portals:                  map[string]config.PortalCredentials{},
	}
}

// run executes one bidctl invocation; every invocation builds fresh components
// over the same data dir, like separate processes would.
func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDoc(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

var jobIDPattern = regexp.MustCompile(`Job queued successfully: (\S+)`)

func TestSubmitDrainStatus(t *testing.T) {
	cfg := testConfig(t)
	doc := writeDoc(t, `{"document_id": "D1", "title": "Bid"}`)
	deadline := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)

	out, err := run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", deadline, "--doc", doc)
	require.NoError(t, err)
	m := jobIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	jobID := m[1]

	out, err = run(t, cfg, "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "Recovered 1 queued job(s)")
	assert.Contains(t, out, "dispatched=1 succeeded=1")

	out, err = run(t, cfg, "status", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "confirmed"`)

	out, err = run(t, cfg, "audit", jobID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "job_created")
	assert.Contains(t, lines[2], "submission_successful")

	out, err = run(t, cfg, "list", "--status", "confirmed")
	require.NoError(t, err)
	assert.Contains(t, out, jobID)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	cfg := testConfig(t)
	doc := writeDoc(t, `{"title": "no id"}`)
	deadline := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	_, err := run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", "tomorrow", "--doc", doc, "--doc-id", "D1")
	assert.ErrorContains(t, err, "RFC3339")

	_, err = run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", "0001-01-01T00:00:00Z", "--doc", doc, "--doc-id", "D1")
	assert.ErrorContains(t, err, "--deadline must be a real instant")

	_, err = run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", deadline, "--doc", doc)
	assert.ErrorContains(t, err, "document_id")

	_, err = run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", deadline, "--doc", doc, "--doc-id", "D1", "--portal", "fedconnect")
	assert.ErrorContains(t, err, "no adapter available")
}

func TestDrainRefusesProcessLocalLocks(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockBackend = config.LockBackendMemory
	doc := writeDoc(t, `{"document_id": "D1"}`)
	deadline := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	out, err := run(t, cfg, "submit", "--rfp-id", "R1", "--deadline", deadline, "--doc", doc)
	require.NoError(t, err)
	jobID := jobIDPattern.FindStringSubmatch(out)[1]

	_, err = run(t, cfg, "drain")
	assert.ErrorContains(t, err, "LOCK_BACKEND=file or redis")

	out, err = run(t, cfg, "status", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "queued"`)
}

func TestCancelQueuedJob(t *testing.T) {
	cfg := testConfig(t)
	doc := writeDoc(t, `{"document_id": "D2"}`)
	deadline := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	out, err := run(t, cfg, "submit", "--rfp-id", "R2", "--deadline", deadline, "--doc", doc)
	require.NoError(t, err)
	jobID := jobIDPattern.FindStringSubmatch(out)[1]

	out, err = run(t, cfg, "cancel", jobID, "--reason", "duplicate")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	out, err = run(t, cfg, "status", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, `"error_message": "cancelled: duplicate"`)

	// Cancelling uses no attempts, so an operator can still bring the job back.
	out, err = run(t, cfg, "retry", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "re-queued")
}

func TestStatusUnknownJob(t *testing.T) {
	out, err := run(t, testConfig(t), "status", "ghost")
	assert.Error(t, err)
	assert.Contains(t, out, `"found": false`)
}

func TestPortals(t *testing.T) {
	out, err := run(t, testConfig(t), "portals")
	require.NoError(t, err)
	assert.Equal(t, "mock\n", out)
}
