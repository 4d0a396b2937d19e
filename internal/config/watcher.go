// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes and hands each valid
// reload to a callback. Invalid configs are logged and skipped; the last
// valid config stays in effect.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for config changes.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}
	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}
			// Editors that replace the file atomically remove the watch
			// with it; re-add so subsequent saves are seen.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.watcher.Add(w.path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().
				Str("component", "config").
				Err(err).
				Msg("config watch error")
		}
	}
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= watchDebounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if !due {
				continue
			}

			cfg, err := LoadFromPath(w.path)
			if err != nil {
				log.Warn().
					Str("component", "config").
					Str("path", w.path).
					Err(err).
					Msg("config reload skipped")
				continue
			}
			log.Info().
				Str("component", "config").
				Str("path", w.path).
				Msg("config reloaded")
			w.onReload(cfg)
		}
	}
}
