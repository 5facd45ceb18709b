package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturio/factura-cli/internal/config"
)

var watchExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}

// recorder collects handled paths.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.seen()) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d handled files, got %d", n, len(r.seen()))
}

func testConfig(t *testing.T) config.WatchConfig {
	t.Helper()
	dir := t.TempDir()
	return config.WatchConfig{
		InboxDir:        filepath.Join(dir, "inbox"),
		ProcessedDir:    filepath.Join(dir, "processed"),
		SettleDelayMS:   20,
		DrainOnStartup:  true,
		MoveToProcessed: true,
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
}

func startWatcher(t *testing.T, cfg config.WatchConfig, rec *recorder) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, watchExtensions, rec.handle).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not stop")
		}
	})
	return cancel
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	cfg := testConfig(t)
	rec := &recorder{}
	startWatcher(t, cfg, rec)

	// Give the watcher a moment to register the inbox.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(cfg.InboxDir, "factura.pdf"))

	rec.waitFor(t, 1)
	assert.Equal(t, filepath.Join(cfg.InboxDir, "factura.pdf"), rec.seen()[0])

	// Processed files move aside.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.ProcessedDir, "factura.pdf"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	_, err := os.Stat(filepath.Join(cfg.InboxDir, "factura.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestWatcherDrainsExistingFiles(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.InboxDir, "pendiente.pdf"))
	writeFile(t, filepath.Join(cfg.InboxDir, "imagen.jpg"))

	rec := &recorder{}
	startWatcher(t, cfg, rec)

	rec.waitFor(t, 2)
}

func TestWatcherSkipsIneligibleFiles(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.InboxDir, ".oculto.pdf"))
	writeFile(t, filepath.Join(cfg.InboxDir, "bajando.pdf.crdownload"))
	writeFile(t, filepath.Join(cfg.InboxDir, "notas.txt"))
	writeFile(t, filepath.Join(cfg.InboxDir, "valida.pdf"))

	rec := &recorder{}
	startWatcher(t, cfg, rec)

	rec.waitFor(t, 1)
	// Settle a little longer and confirm nothing else was picked up.
	time.Sleep(200 * time.Millisecond)
	require.Len(t, rec.seen(), 1)
	assert.Contains(t, rec.seen()[0], "valida.pdf")
}

func TestWatcherLeavesFailedFilesInInbox(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.InboxDir, "rota.pdf"))

	handled := make(chan struct{}, 1)
	failing := func(_ context.Context, _ string) error {
		handled <- struct{}{}
		return assert.AnError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(cfg, watchExtensions, failing).Run(ctx)

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not invoked")
	}

	// Failure keeps the file in the inbox for inspection.
	time.Sleep(100 * time.Millisecond)
	_, err := os.Stat(filepath.Join(cfg.InboxDir, "rota.pdf"))
	assert.NoError(t, err)
}

func TestEligible(t *testing.T) {
	w := New(config.WatchConfig{}, watchExtensions, nil)

	assert.True(t, w.eligible("/inbox/factura.pdf"))
	assert.True(t, w.eligible("/inbox/FACTURA.PDF"))
	assert.True(t, w.eligible("/inbox/scan.jpeg"))
	assert.False(t, w.eligible("/inbox/.factura.pdf"))
	assert.False(t, w.eligible("/inbox/factura.pdf.crdownload"))
	assert.False(t, w.eligible("/inbox/factura.pdf.part"))
	assert.False(t, w.eligible("/inbox/notas.txt"))
	assert.False(t, w.eligible("/inbox/sin-extension"))
}
