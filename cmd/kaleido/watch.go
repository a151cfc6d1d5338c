package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"kaleido/internal/driver"
)

// watcher rebuilds one file in a fresh session every time it is written.
type watcher struct {
	path string
	json bool
	opts *driver.Options

	stdout io.Writer
	stderr io.Writer

	// runs counts completed rebuilds.
	runs int
}

// Run builds once and then on every change until ctx is done.
func (w *watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watcher")
	}
	defer fw.Close()

	// Editors often replace the file, so watch the directory and filter.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return errors.Wrap(err, "watch %s", dir)
	}

	changes := make(chan struct{}, 1)
	errc := make(chan error, 1)
	go w.loop(ctx, fw, changes, errc)

	w.rebuild()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case <-changes:
			w.rebuild()
		}
	}
}

func (w *watcher) loop(ctx context.Context, fw *fsnotify.Watcher, changes chan<- struct{}, errc chan<- error) {
	target := filepath.Clean(w.path)
	tr := tlog.V("watch")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tr.Printw("change", "file", ev.Name, "op", ev.Op.String())

			// Coalesce bursts of events into one pending rebuild.
			select {
			case changes <- struct{}{}:
			default:
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			select {
			case errc <- errors.Wrap(err, "watch"):
			default:
			}
			return
		}
	}
}

func (w *watcher) rebuild() {
	w.runs++
	fmt.Fprintf(w.stdout, "--- build %d: %s\n", w.runs, w.path)

	d, err := driver.New(w.opts)
	if err != nil {
		fmt.Fprintf(w.stderr, "error: %v\n", err)
		return
	}

	err = compileFile(d, w.path, w.json)
	switch {
	case err == nil:
		fmt.Fprintf(w.stdout, "--- ok (%d functions)\n", len(d.Functions()))
	case errors.Is(err, driver.ErrFailed):
		fmt.Fprintf(w.stdout, "--- %d failed items\n", d.Failures())
	default:
		fmt.Fprintf(w.stderr, "error: %v\n", err)
	}
	tlog.V("watch").Printw("rebuilt", "run", w.runs, "failures", d.Failures())
}
