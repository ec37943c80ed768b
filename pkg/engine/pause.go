package engine

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/opentribeam/tribeam/pkg/telemetry"
)

// PauseSentinel is the file name an operator drops into the experiment
// directory to request a pause at the next step boundary. Removing it
// withdraws the request.
const PauseSentinel = "pause"

// PauseController reports operator pause requests. Requests are honored
// only at step boundaries; the controller never interrupts a step.
type PauseController struct {
	requested atomic.Bool
	watcher   *fsnotify.Watcher
	sentinel  string
	log       *telemetry.Logger
}

// NewPauseController watches dir for the pause sentinel file. A sentinel
// already present when the controller starts counts as a request.
func NewPauseController(dir string, log *telemetry.Logger) (*PauseController, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	pc := &PauseController{
		watcher:  watcher,
		sentinel: filepath.Join(dir, PauseSentinel),
		log:      log.NewComponentLogger("pause"),
	}
	if _, err := os.Stat(pc.sentinel); err == nil {
		pc.requested.Store(true)
	}
	go pc.watch()
	return pc, nil
}

func (pc *PauseController) watch() {
	for {
		select {
		case event, ok := <-pc.watcher.Events:
			if !ok {
				return
			}
			if event.Name != pc.sentinel {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				pc.log.Info("Pause requested, run will stop at the next step boundary")
				pc.requested.Store(true)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				pc.log.Info("Pause request withdrawn")
				pc.requested.Store(false)
			}
		case err, ok := <-pc.watcher.Errors:
			if !ok {
				return
			}
			pc.log.WithError(err).Warn("Pause watcher error")
		}
	}
}

// Request marks a pause without a sentinel file, for in-process callers.
func (pc *PauseController) Request() {
	pc.requested.Store(true)
}

// Requested reports whether a pause is pending.
func (pc *PauseController) Requested() bool {
	return pc.requested.Load()
}

// Close stops watching. The pending flag keeps its last value.
func (pc *PauseController) Close() error {
	if pc.watcher == nil {
		return nil
	}
	return pc.watcher.Close()
}
