//go:build integration
// +build integration

package integration_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/obseal/internal/client"
	"github.com/TheMichaelB/obseal/internal/config"
	"github.com/TheMichaelB/obseal/internal/journal"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
	"github.com/TheMichaelB/obseal/internal/transport"
	"github.com/TheMichaelB/obseal/test/testutil"
)

type daemon struct {
	cfg    *config.Config
	client *client.Client
	hub    *transport.Hub
	url    string
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()

	spill, out := testutil.TempDirs(t)
	cfg := config.DefaultConfig()
	cfg.Pipeline.TempDir = spill
	cfg.Storage.OutputDir = out
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	logger := testutil.NewTestLogger()

	hub := transport.NewHub(time.Second, logger)
	c, err := client.New(ctx, cfg, logger, client.Options{Sink: hub})
	require.NoError(t, err)

	api := transport.NewAPI(ctx, c, hub, c.Journal, cfg.Server.MaxBodyBytes, logger)
	srv := httptest.NewServer(api.Routes())

	t.Cleanup(func() {
		cancel()
		hub.Close()
		srv.Close()
		c.Close()
	})

	return &daemon{cfg: cfg, client: c, hub: hub, url: srv.URL}
}

func (d *daemon) submitAndWait(t *testing.T, req transport.SubmitRequest) pipeline.Event {
	t.Helper()
	ctx := context.Background()

	// Followers from earlier calls leave asynchronously.
	require.Eventually(t, func() bool { return d.hub.Subscribers() == 0 },
		2*time.Second, 10*time.Millisecond)

	follower, err := transport.NewEventClient(d.url, "", testutil.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, follower.Connect(ctx))
	defer follower.Close()

	require.Eventually(t, func() bool { return d.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	api := transport.NewAPIClient(d.url, 10*time.Second, 0, testutil.NewTestLogger())
	id, err := api.Submit(ctx, req)
	require.NoError(t, err)

	timeout := time.After(30 * time.Second)
	var stages []pipeline.Stage
	for {
		select {
		case ev, ok := <-follower.Events():
			require.True(t, ok, "feed closed")
			if ev.JobID != id {
				continue
			}
			if ev.Type == pipeline.EventProgress {
				if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
					stages = append(stages, ev.Stage)
				}
			}
			if ev.Type.IsTerminal() {
				t.Logf("job %s stages: %v", id, stages)
				return ev
			}
		case <-timeout:
			t.Fatalf("job %s did not finish", id)
		}
	}
}

func TestDaemonSealUnseal(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	d := startDaemon(t)

	plain := testutil.Pseudorandom(600*1024, 42)
	src := testutil.WriteFile(t, "archive.tar", plain)

	sealed := d.submitAndWait(t, transport.SubmitRequest{
		Direction: "seal", Path: src, Secret: "correct horse", Bit: 0x42,
	})
	require.Equal(t, pipeline.EventCompleted, sealed.Type, sealed.Message)
	require.NotNil(t, sealed.Result)
	assert.Equal(t, filepath.Join(d.cfg.Storage.OutputDir, "archive.enc"), sealed.Result.Path)
	assert.Equal(t, int64(len(plain)), sealed.Result.Size.Before)
	for _, stage := range []pipeline.Stage{
		pipeline.StageLoad, pipeline.StageDigest, pipeline.StageCompress,
		pipeline.StageCipher, pipeline.StageObfuscate,
	} {
		assert.Contains(t, sealed.Result.Timings, stage)
	}

	unsealed := d.submitAndWait(t, transport.SubmitRequest{
		Direction: "unseal", Path: sealed.Result.Path, Secret: "correct horse", Bit: 0x42,
	})
	require.Equal(t, pipeline.EventCompleted, unsealed.Type, unsealed.Message)

	got, err := os.ReadFile(unsealed.Result.Path)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	wrong := d.submitAndWait(t, transport.SubmitRequest{
		Direction: "unseal", Path: sealed.Result.Path, Secret: "wrong", Bit: 0x42,
	})
	require.Equal(t, pipeline.EventError, wrong.Type)
	assert.Contains(t, []models.ErrorKind{
		models.KindCipher, models.KindCompression, models.KindIntegrity,
	}, wrong.Kind)
	assert.Equal(t, wrong.Kind.Code(), wrong.Code)

	// Journal writes happen after the terminal event.
	require.Eventually(t, func() bool {
		recs, err := d.client.History(journal.ListOptions{})
		return err == nil && len(recs) == 3
	}, 5*time.Second, 20*time.Millisecond)

	api := transport.NewAPIClient(d.url, 10*time.Second, 0, testutil.NewTestLogger())
	failed, err := api.List(context.Background(), journal.ListOptions{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, wrong.JobID, failed[0].ID)
	assert.Equal(t, wrong.Kind, failed[0].ErrorKind)
}
