package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
)

// ErrInvalidContacts is returned for unreadable or malformed contacts files.
var ErrInvalidContacts = errors.New("invalid contacts file")

// Directory is a contacts book loaded from a TOML file:
//
//	[[contact]]
//	name  = "Eric"
//	email = "eric@example.com"
//	phone = "555-0100"
//
// Lookups are case-insensitive on name.
type Directory struct {
	path   string
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]Contact

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// LoadDirectory reads the contacts file at path. A missing file yields an
// empty directory so that it can be created later while watching.
func LoadDirectory(path string, logger *logging.Logger) (*Directory, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving contacts path: %w", err)
	}
	d := &Directory{path: abs, logger: logger, entries: map[string]Contact{}}
	if err := d.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return d, nil
}

// Lookup finds a contact by name, ignoring case and surrounding space.
func (d *Directory) Lookup(name string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.entries[key(name)]
	return c, ok
}

// Len returns the number of contacts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (d *Directory) reload() error {
	var file struct {
		Contact []Contact `toml:"contact"`
	}
	if _, err := os.Stat(d.path); err != nil {
		return err
	}
	if _, err := toml.DecodeFile(d.path, &file); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidContacts, d.path, err)
	}

	entries := make(map[string]Contact, len(file.Contact))
	for i, c := range file.Contact {
		if key(c.Name) == "" {
			return fmt.Errorf("%w: contact %d has no name", ErrInvalidContacts, i)
		}
		entries[key(c.Name)] = c
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it changes until ctx is done or Close is
// called. The parent directory is watched so editors that replace the file
// by rename are picked up. A bad edit keeps the previous entries.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating contacts watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(d.path), err)
	}
	d.watcher = watcher
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.processEvents(ctx)
	return nil
}

func (d *Directory) processEvents(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != d.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := d.reload(); err != nil {
				d.logger.Warn(ctx, "contacts reload failed", zap.String("path", d.path), zap.Error(err))
				continue
			}
			d.logger.Info(ctx, "contacts reloaded", zap.String("path", d.path), zap.Int("count", d.Len()))
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn(ctx, "contacts watcher error", zap.Error(err))
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (d *Directory) Close() error {
	if d.watcher == nil {
		return nil
	}
	select {
	case <-d.stop:
		return nil
	default:
		close(d.stop)
	}
	err := d.watcher.Close()
	<-d.done
	return err
}

var _ ContactLookup = (*Directory)(nil)
