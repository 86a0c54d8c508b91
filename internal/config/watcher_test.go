package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vivavox/vivavox/internal/config"
)

const watcherPollInterval = 50 * time.Millisecond

func watcherYAML(logLevel string) string {
	return `
server:
  log_level: ` + logLevel + `
providers:
  stt:
    name: whisper
  tts:
    name: elevenlabs
database:
  postgres_dsn: "postgres://localhost/test"
exam:
  question_dir: ./questions
`
}

// writeConfigFile creates or rewrites the watched file.
func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// startWatcher writes an initial info-level config and returns a running
// watcher plus the config path for later rewrites.
func startWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherYAML("info"))

	w, err := config.NewWatcher(path, onChange, config.WithInterval(watcherPollInterval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	type changed struct{ old, new *config.Config }
	seen := make(chan changed, 1)

	w, path := startWatcher(t, func(old, new *config.Config) {
		select {
		case seen <- changed{old, new}:
		default:
		}
	})

	// Let the first poll pass before rewriting the file.
	time.Sleep(2 * watcherPollInterval)
	writeConfigFile(t, path, watcherYAML("debug"))

	var got changed
	select {
	case got = <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	if got.old == nil || got.new == nil {
		t.Fatal("callback received nil configs")
	}
	if got.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", got.old.Server.LogLevel, config.LogInfo)
	}
	if got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", got.new.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

// The callback must stay silent when the file changes to something invalid
// or merely gets its mtime bumped without a content change.
func TestWatcher_IgnoresNonChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, path string)
	}{
		{
			name: "invalid file keeps old config",
			mutate: func(t *testing.T, path string) {
				writeConfigFile(t, path, "server:\n  log_level: bananas\n")
			},
		},
		{
			name: "touch without content change",
			mutate: func(t *testing.T, path string) {
				later := time.Now().Add(time.Second)
				if err := os.Chtimes(path, later, later); err != nil {
					t.Fatalf("chtimes: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			w, path := startWatcher(t, func(old, new *config.Config) {
				calls.Add(1)
			})

			time.Sleep(2 * watcherPollInterval)
			tt.mutate(t, path)
			time.Sleep(6 * watcherPollInterval)

			if n := calls.Load(); n != 0 {
				t.Errorf("callback fired %d times, want 0", n)
			}
			if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
				t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogInfo)
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	w.Stop()
	w.Stop()
	w.Stop()
}
