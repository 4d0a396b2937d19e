// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/parley/internal/attach"
	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/llm"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/util"
)

// ErrConversationLost indicates the current conversation was replaced while
// a turn was in flight. The turn's result is discarded rather than appended
// to whatever conversation is current now.
var ErrConversationLost = errors.New("conversation was replaced mid-turn")

// User-facing messages per generation failure class.
const (
	msgRateLimited = "We're experiencing high traffic right now. Please wait a moment and try again."
	msgTimeout     = "The response took too long and timed out. Please try again."
	msgTransport   = "Could not reach the service. Check your connection and try again."
	msgGeneric     = "Something went wrong while generating a response. Please try again."
)

// TurnResult summarizes one completed turn for the caller.
type TurnResult struct {
	ConversationID   string
	UserMessage      *model.Message
	AssistantMessage *model.Message

	// Stopped is true when the turn was cancelled and its generation
	// result (if any) was discarded.
	Stopped bool

	Duration time.Duration
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator sequences the components of one conversation turn.
type Orchestrator struct {
	store     *store.Store
	llm       *llm.Client
	backend   *backend.Client
	encoder   *attach.Encoder
	worker    *Worker
	projectID string

	mu sync.Mutex
	// activeTurn is the token of the turn allowed to mutate state, empty
	// when idle. Stop clears it; a continuation holding a stale token
	// discards its result.
	activeTurn string
}

// NewOrchestrator wires an orchestrator for one project.
func NewOrchestrator(st *store.Store, llmClient *llm.Client, backendClient *backend.Client, encoder *attach.Encoder, worker *Worker, projectID string) *Orchestrator {
	return &Orchestrator{
		store:     st,
		llm:       llmClient,
		backend:   backendClient,
		encoder:   encoder,
		worker:    worker,
		projectID: projectID,
	}
}

// Submit runs one full turn: append the user's prompt, generate, append the
// reply or a visible error message, and queue background persistence. It
// returns when the turn's visible state is final; persistence continues
// detached.
func (o *Orchestrator) Submit(ctx context.Context, prompt string, files []string) (*TurnResult, error) {
	token := o.beginTurn()

	// Fresh read; a first turn creates its conversation locally, with no
	// backend call, so the append below cannot fail for lack of one.
	convID := o.store.CurrentID()
	if convID == "" {
		conv := model.NewConversation(o.projectID)
		o.store.SetCurrent(conv)
		convID = conv.ID
		log.Debug().
			Str("component", "engine").
			Str("conversation_id", convID).
			Msg("local conversation created")
	}

	// Encoding runs before the optimistic append so the user's message
	// carries its attachment references from the start. Files that fail to
	// encode are skipped, logged inside the encoder, and the turn proceeds
	// with the rest.
	payloads, refs, _ := o.encoder.EncodeAll(files)

	userMsg := model.NewUserMessage(prompt)
	userMsg.Attachments = refs
	storedUser, err := o.store.AppendMessage(convID, userMsg)
	if err != nil {
		return nil, err
	}

	// Project context is best-effort; generation proceeds without it.
	var projectCtx *backend.ProjectContext
	if o.backend.IsConfigured() {
		projectCtx, err = o.backend.GetProjectContext(ctx, o.projectID)
		if err != nil {
			log.Warn().
				Str("component", "engine").
				Str("project_id", o.projectID).
				Err(err).
				Msg("project context unavailable, generating without it")
			projectCtx = nil
		}
	}

	start := time.Now()
	content, genErr := o.llm.Generate(ctx, llm.Request{
		Prompt:      prompt,
		Context:     projectCtx,
		Attachments: payloads,
	})
	elapsed := time.Since(start)

	// Re-validate after the suspension point: a stop or a conversation
	// switch while generating means this result is discarded, not applied.
	if !o.turnActive(token) {
		log.Info().
			Str("component", "engine").
			Str("conversation_id", convID).
			Msg("turn stopped, generation result discarded")
		return &TurnResult{
			ConversationID: convID,
			UserMessage:    storedUser,
			Stopped:        true,
			Duration:       elapsed,
		}, nil
	}
	defer o.endTurn(token)

	if genErr != nil && errors.Is(genErr, context.Canceled) {
		return &TurnResult{
			ConversationID: convID,
			UserMessage:    storedUser,
			Stopped:        true,
			Duration:       elapsed,
		}, nil
	}

	var reply *model.Message
	if genErr != nil {
		log.Warn().
			Str("component", "engine").
			Str("conversation_id", convID).
			Err(genErr).
			Msg("generation failed")
		reply = model.NewErrorMessage(userFacingError(genErr))
	} else {
		reply = model.NewAssistantMessage(content)
		reply.GenDuration = elapsed
	}

	storedReply, err := o.store.AppendMessage(convID, reply)
	if err != nil {
		// The conversation vanished during the await. Never reattach the
		// result to whatever conversation is current now.
		log.Warn().
			Str("component", "engine").
			Str("conversation_id", convID).
			Err(err).
			Msg("conversation lost during turn")
		return nil, ErrConversationLost
	}

	o.worker.Enqueue(Job{
		ConvID:           convID,
		ProjectID:        o.projectID,
		TitleHint:        util.TruncateRunes(util.FirstLine(prompt), model.TitleMaxRunes),
		UserContent:      prompt,
		AssistantContent: content,
	})

	return &TurnResult{
		ConversationID:   convID,
		UserMessage:      storedUser,
		AssistantMessage: storedReply,
		Duration:         elapsed,
	}, nil
}

// Stop cancels the in-flight turn for state-mutation purposes. The network
// request is not necessarily aborted; its eventual result is discarded.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn == "" {
		return
	}
	log.Info().
		Str("component", "engine").
		Str("turn", o.activeTurn).
		Msg("turn stopped by user")
	o.activeTurn = ""
}

// WaitIdle blocks until all queued background persistence has finished.
func (o *Orchestrator) WaitIdle() {
	o.worker.WaitIdle()
}

// =============================================================================
// TURN TOKEN
// =============================================================================

func (o *Orchestrator) beginTurn() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeTurn = uuid.NewString()
	return o.activeTurn
}

func (o *Orchestrator) turnActive(token string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeTurn == token
}

func (o *Orchestrator) endTurn(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurn == token {
		o.activeTurn = ""
	}
}

// userFacingError maps a generation failure to the message shown in the
// conversation. Rate limiting gets its own wording so the user knows a
// short wait will help.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, llm.ErrTimeout):
		return msgTimeout
	case errors.Is(err, llm.ErrTransport):
		return msgTransport
	default:
		return msgGeneric
	}
}
