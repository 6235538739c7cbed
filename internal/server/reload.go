package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opsline/failsafe/internal/authz"
	"github.com/opsline/failsafe/internal/config"
)

// Reloader watches the config file and hot-reloads the authorization
// role table on change. Only the role table is hot: store paths, token
// secrets, and adapter bindings take effect on restart.
type Reloader struct {
	watcher *fsnotify.Watcher
	gate    *authz.Gate
	path    string
}

// NewReloader creates a file watcher for the config path.
func NewReloader(gate *authz.Gate, path string) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("server: no config file to watch")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("server: cannot watch %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("server: watch %q: %w", path, err)
	}
	return &Reloader{watcher: watcher, gate: gate, path: path}, nil
}

// Run watches for changes and reloads roles. Blocks until ctx is
// cancelled. Writes are debounced: reload fires 500ms after the last.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, _, err := config.Load(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	r.gate.SetRoles(cfg.RoleTable())
	fmt.Fprintf(os.Stderr, "hot-reload: role table reloaded\n")
}
