// Package filelog persists examples as a JSON array file. Appends rewrite the
// file atomically, and Watch reports edits made by other processes, such as an
// operator trimming the log.
package filelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/gptproxy-go/exemplar"
)

// Log is an exemplar.Log backed by one file.
type Log struct {
	path string
	log  *slog.Logger

	mu          sync.Mutex
	closed      bool
	lastWritten []byte
}

var _ exemplar.Log = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithLogHandler routes watcher diagnostics to h.
func WithLogHandler(h slog.Handler) Option {
	return func(l *Log) {
		if h != nil {
			l.log = slog.New(h)
		}
	}
}

// Open returns a log over path. The file need not exist yet; its directory is
// created on first append.
func Open(path string, opts ...Option) (*Log, error) {
	if path == "" {
		return nil, errors.New("filelog: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filelog: resolve %s: %w", path, err)
	}
	l := &Log{path: abs, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the absolute file path.
func (l *Log) Path() string { return l.path }

func (l *Log) read() ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (l *Log) Load(ctx context.Context) ([]exemplar.Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, exemplar.ErrClosed
	}
	data, err := l.read()
	if err != nil {
		return nil, fmt.Errorf("filelog: read: %w", err)
	}
	return exemplar.ReadJSON(bytes.NewReader(data))
}

func (l *Log) Append(ctx context.Context, ex exemplar.Example) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return exemplar.ErrClosed
	}
	data, err := l.read()
	if err != nil {
		return fmt.Errorf("filelog: read: %w", err)
	}
	examples, err := exemplar.ReadJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	examples = append(examples, ex)

	var buf bytes.Buffer
	if err := exemplar.WriteJSON(&buf, examples); err != nil {
		return fmt.Errorf("filelog: encode: %w", err)
	}
	if err := writeAtomic(l.path, buf.Bytes()); err != nil {
		return err
	}
	l.lastWritten = buf.Bytes()
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filelog: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("filelog: create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("filelog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("filelog: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("filelog: close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("filelog: rename: %w", err)
	}
	return nil
}

// Watch calls fn with the reloaded examples whenever another writer changes
// the file. Changes made by this Log's own appends are not reported. Watch
// blocks until ctx is done or the watcher fails.
func (l *Log) Watch(ctx context.Context, fn func([]exemplar.Example)) error {
	if fn == nil {
		return errors.New("filelog: nil watch callback")
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filelog: mkdir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filelog: watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	// The directory is watched because atomic renames replace the file inode.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("filelog: watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.WarnContext(ctx, "filelog.watch.error", slog.String("err", err.Error()))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != l.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			examples, changed, err := l.reload()
			if err != nil {
				l.log.WarnContext(ctx, "filelog.watch.reload_failed", slog.String("path", l.path), slog.String("err", err.Error()))
				continue
			}
			if !changed {
				continue
			}
			l.log.DebugContext(ctx, "filelog.watch.reloaded", slog.String("path", l.path), slog.Int("examples", len(examples)))
			fn(examples)
		}
	}
}

// reload reads the file and reports whether it differs from the last content
// this Log wrote.
func (l *Log) reload() ([]exemplar.Example, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, exemplar.ErrClosed
	}
	data, err := l.read()
	if err != nil {
		return nil, false, err
	}
	if l.lastWritten != nil && bytes.Equal(data, l.lastWritten) {
		return nil, false, nil
	}
	examples, err := exemplar.ReadJSON(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	l.lastWritten = data
	return examples, true, nil
}
