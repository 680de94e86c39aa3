// Package watch drives incremental rebuilds from filesystem change events.
// It wraps internal/watcher's fsnotify/polling hybrid watcher and consumes
// batches of watcher.FileEvent. A packet rebuild already gets incremental
// reuse for free from internal/build's content-hash cache, so this
// package's job narrows to deciding when a batch of events is worth a
// rebuild and debouncing accordingly.
package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/cpe/internal/build"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/watcher"
)

// RebuildFunc runs one packet rebuild. Returning an error does not stop
// the watch loop; it is logged and watching continues.
type RebuildFunc func(ctx context.Context) (*build.Result, error)

// Session drives a watch-and-rebuild loop: every debounced batch of
// filesystem events triggers one rebuild via Trigger, except pure
// OpConfigChange events, which reload cfg in place first so the next
// rebuild picks up the new chunking/embedding settings.
type Session struct {
	watcher *watcher.HybridWatcher
	trigger RebuildFunc
	cfg     *config.Config
	cfgPath string
}

// NewSession constructs a watch session using the hybrid fsnotify/polling
// watcher with opts, invoking trigger after each debounced batch of events.
// cfgPath, if non-empty, is reloaded into cfg whenever an OpConfigChange
// event fires before the next trigger runs.
func NewSession(opts watcher.Options, cfg *config.Config, cfgPath string, trigger RebuildFunc) (*Session, error) {
	hw, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return nil, fmt.Errorf("watch: starting watcher: %w", err)
	}
	return &Session{watcher: hw, trigger: trigger, cfg: cfg, cfgPath: cfgPath}, nil
}

// Run watches rootDir until ctx is cancelled, triggering a rebuild after
// every debounced batch of relevant events.
func (s *Session) Run(ctx context.Context, rootDir string) error {
	if err := s.watcher.Start(ctx, rootDir); err != nil {
		return fmt.Errorf("watch: starting watcher on %s: %w", rootDir, err)
	}
	defer s.watcher.Stop()

	events := s.watcher.Events()
	errs := s.watcher.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, batch)
		}
	}
}

func (s *Session) handle(ctx context.Context, batch []watcher.FileEvent) {
	if len(batch) == 0 {
		return
	}

	for _, ev := range batch {
		if ev.Operation == watcher.OpConfigChange && s.cfgPath != "" {
			reloaded, err := config.Load(s.cfgPath)
			if err != nil {
				slog.Warn("watch_config_reload_failed", slog.String("path", s.cfgPath), slog.String("error", err.Error()))
				continue
			}
			*s.cfg = *reloaded
			slog.Info("watch_config_reloaded", slog.String("path", s.cfgPath))
		}
	}

	slog.Info("watch_rebuild_triggered", slog.Int("events", len(batch)))

	if _, err := s.trigger(ctx); err != nil {
		slog.Warn("watch_rebuild_failed", slog.String("error", err.Error()))
	}
}
