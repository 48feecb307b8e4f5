package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is measured from the first event of a burst; everything seen
// before it expires becomes one reload.
const settleDelay = 100 * time.Millisecond

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op // union of the ops seen during the burst
}

// Watcher reports changes to config.yaml. The home directory is watched
// instead of the file so replacements by rename are seen.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger.With("component", "config"),
		events:  make(chan ReloadEvent, 1),
	}
}

// Events is closed once ctx passed to Start is done.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.run(ctx, fsw, filepath.Clean(ConfigPath(w.homeDir)))
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, target string) {
	defer close(w.events)
	defer fsw.Close()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	var pending fsnotify.Op

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&reloadOps == 0 {
				continue
			}
			if pending == 0 {
				settle.Reset(settleDelay)
			}
			pending |= ev.Op & reloadOps
		case <-settle.C:
			w.logger.Info("config file changed", "path", target, "op", pending.String())
			select {
			case w.events <- ReloadEvent{Path: target, Op: pending}:
			default:
				// A reload is already queued; it will read the latest file.
			}
			pending = 0
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
