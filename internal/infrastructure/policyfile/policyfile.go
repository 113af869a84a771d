// Package policyfile seeds a data plane from a YAML policy file and optionally
// re-applies it whenever the file changes.
package policyfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Document is the on-disk layout:
//
//	policies:
//	  - tenantId: acme
//	    version: 3
//	    limit: 100
//	    window: 60
type Document struct {
	Policies []policy.Policy `yaml:"policies"`
}

// Load parses path. Every entry must validate; a bad entry fails the whole file.
func Load(path string) ([]policy.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	for i := range doc.Policies {
		if err := doc.Policies[i].Validate(); err != nil {
			return nil, fmt.Errorf("policy file %s entry %d: %w", path, i, err)
		}
	}
	return doc.Policies, nil
}

// Apply loads path and feeds each policy through updater. It returns the number of
// policies read. Whether each was applied is decided by version, as for any source.
func Apply(ctx context.Context, path string, updater ports.PolicyUpdater) (int, error) {
	policies, err := Load(path)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, p := range policies {
		if err := updater.UpdateConfig(ctx, p, ports.SourceFile); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", p.TenantID, err))
		}
	}
	return len(policies), errors.Join(errs...)
}

// Watcher re-applies the policy file after it changes.
type Watcher struct {
	path     string
	updater  ports.PolicyUpdater
	debounce time.Duration
	logger   *logrus.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, updater ports.PolicyUpdater, debounce time.Duration, logger *logrus.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: path, updater: updater, debounce: debounce, logger: logger}
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// atomic replace-by-rename saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve policy file path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if w.logger != nil {
		w.logger.WithFields(logrus.Fields{"path": abs, "debounce": w.debounce.String()}).Info("policy file watcher started")
	}

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != abs {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.WithError(err).Warn("policy file watcher error")
			}
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := Apply(ctx, w.path, w.updater)
	if w.logger == nil {
		return
	}
	if err != nil {
		// last good policies stay in the registry
		w.logger.WithFields(logrus.Fields{"path": w.path}).WithError(err).Warn("policy file reload failed")
		return
	}
	w.logger.WithFields(logrus.Fields{"path": w.path, "policies": n}).Info("policy file reloaded")
}
