// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
)

// jobQueueSize bounds the number of turns waiting for persistence. The
// queue drains far faster than a human can submit turns; hitting the bound
// just makes Enqueue block briefly.
const jobQueueSize = 64

// jobTimeout bounds one persistence run. Detached jobs get their own
// context; they must not inherit the turn's, which is gone by the time they
// run.
const jobTimeout = 2 * time.Minute

// Job is one turn's persistence work, captured when the turn ended.
type Job struct {
	// ConvID is the conversation ID the turn observed. The store resolves
	// it through any reconciliation that happens before the job runs.
	ConvID    string
	ProjectID string

	// TitleHint seeds the backend conversation title when the conversation
	// has none yet.
	TitleHint string

	UserContent string

	// AssistantContent is empty when the turn failed; only the user
	// message is persisted then.
	AssistantContent string
}

// Worker persists finished turns to the backend without blocking the UI.
//
// A single goroutine consumes the queue, so jobs run strictly in submission
// order and the backend sees [user1, assistant1, user2, assistant2] no
// matter how turns interleaved locally.
type Worker struct {
	provisioner *Provisioner
	backend     *backend.Client
	store       *store.Store

	jobs chan Job
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewWorker creates a worker and starts its consumer goroutine.
func NewWorker(provisioner *Provisioner, client *backend.Client, st *store.Store) *Worker {
	w := &Worker{
		provisioner: provisioner,
		backend:     client,
		store:       st,
		jobs:        make(chan Job, jobQueueSize),
	}
	go w.run()
	return w
}

// Enqueue hands a finished turn to the worker. It returns as soon as the job
// is queued; the caller never waits for persistence.
func (w *Worker) Enqueue(job Job) {
	w.wg.Add(1)
	w.jobs <- job
}

// WaitIdle blocks until every queued job has finished. Used at shutdown and
// by tests; the interactive path never calls it.
func (w *Worker) WaitIdle() {
	w.wg.Wait()
}

// Close stops the consumer after the queue drains. Enqueue must not be
// called after Close.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.jobs)
	})
}

func (w *Worker) run() {
	for job := range w.jobs {
		w.process(job)
		w.wg.Done()
	}
}

// process runs one job's steps in order. Each step is attempted once; a
// failure is logged and later steps that do not depend on it still run.
// Nothing here ever touches displayed message content.
func (w *Worker) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	meta, ok := w.store.Lookup(job.ConvID)
	if !ok {
		// The conversation was replaced and forgotten mid-flight. Its
		// persistence is dropped, never re-queued against whatever
		// conversation is current now.
		log.Warn().
			Str("component", "engine").
			Str("conversation_id", job.ConvID).
			Msg("conversation gone, persistence dropped")
		return
	}

	backendID, err := w.provisioner.EnsureBackendConversation(ctx, meta, job.TitleHint)
	if err != nil {
		log.Warn().
			Str("component", "engine").
			Str("conversation_id", job.ConvID).
			Err(err).
			Msg("backend provisioning failed, turn not persisted")
		return
	}

	if err := w.backend.AppendMessage(ctx, job.ProjectID, backendID, model.RoleUser.String(), job.UserContent); err != nil {
		log.Warn().
			Str("component", "engine").
			Str("backend_id", backendID).
			Err(err).
			Msg("user message persistence failed")
	}

	if job.AssistantContent == "" {
		return
	}
	if err := w.backend.AppendMessage(ctx, job.ProjectID, backendID, model.RoleAssistant.String(), job.AssistantContent); err != nil {
		log.Warn().
			Str("component", "engine").
			Str("backend_id", backendID).
			Err(err).
			Msg("assistant message persistence failed")
	}
}
