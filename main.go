// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// parley is an interactive client for project-scoped AI conversations.
//
// Messages appear in the conversation immediately; the backend conversation
// record is provisioned lazily and both sides of each exchange are persisted
// by a background worker that never blocks the prompt.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley/internal/attach"
	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/llm"
	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// Live reload covers tunables only; endpoints and project are fixed
	// for the session.
	if path, err := config.ConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if w, err := config.NewWatcher(path, func(next *config.Config) {
				logging.SetLevel(next.Log.Level)
			}); err == nil {
				if err := w.Watch(); err == nil {
					defer w.Close()
				}
			}
		}
	}

	st := store.New()
	backendClient := backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey).
		WithTimeout(time.Duration(cfg.Backend.TimeoutSecs) * time.Second)
	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey).
		WithTimeout(time.Duration(cfg.LLM.TimeoutSecs) * time.Second)
	encoder := attach.NewEncoder()
	provisioner := engine.NewProvisioner(backendClient, st)
	worker := engine.NewWorker(provisioner, backendClient, st)
	orch := engine.NewOrchestrator(st, llmClient, backendClient, encoder, worker, cfg.Project.ID)

	session := &chatSession{
		store: st,
		orch:  orch,
		input: newInputCLI(),
	}
	defer session.input.Close()

	// Ctrl+C during generation stops the turn; the in-flight result is
	// discarded, not applied.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			orch.Stop()
			fmt.Fprintln(os.Stderr, "\n[stopped]")
		}
	}()

	printWelcome(cfg.Project.ID)
	session.loop()

	// Let queued persistence finish before exiting.
	fmt.Println("syncing...")
	orch.WaitIdle()
	worker.Close()
	fmt.Println("goodbye")
	return nil
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputCLI provides input history and line editing for the prompt loop.
type inputCLI struct {
	line        *liner.State
	historyFile string
}

func newInputCLI() *inputCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	cli := &inputCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "history"),
	}
	if f, err := os.Open(cli.historyFile); err == nil {
		cli.line.ReadHistory(f)
		f.Close()
	}
	return cli
}

func (c *inputCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *inputCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

type chatSession struct {
	store *store.Store
	orch  *engine.Orchestrator
	input *inputCLI

	// pending holds file paths attached to the next message. Dispatching a
	// message clears it.
	pending []string
}

func (s *chatSession) loop() {
	for {
		input, err := s.input.ReadInput("parley> ")
		if err != nil {
			// Ctrl+C at the prompt or EOF both end the session.
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !s.handleCommand(input) {
				return
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return
		}

		s.send(input)
	}
}

func (s *chatSession) send(prompt string) {
	files := s.pending
	s.pending = nil

	result, err := s.orch.Submit(context.Background(), prompt, files)
	if err != nil {
		if errors.Is(err, engine.ErrConversationLost) {
			fmt.Fprintln(os.Stderr, "[error] the conversation changed while generating; the reply was discarded")
			return
		}
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}
	if result.Stopped {
		return
	}

	fmt.Println()
	fmt.Println(result.AssistantMessage.Content)
	fmt.Println()
	if !result.AssistantMessage.IsError {
		fmt.Fprintf(os.Stderr, "[%s]\n", result.Duration.Round(time.Millisecond))
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand processes a slash command. Returns false to exit.
func (s *chatSession) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		printHelp()

	case "/new", "/n":
		s.store.Reset()
		s.pending = nil
		fmt.Println("[new conversation]")

	case "/list", "/ls":
		s.printConversations()

	case "/load":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: /load <conversation-id>")
			break
		}
		if err := s.store.SwitchTo(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			break
		}
		s.printTranscript()

	case "/attach", "/a":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: /attach <file> [file...]")
			break
		}
		s.pending = append(s.pending, args...)
		fmt.Printf("[%d file(s) attached to next message]\n", len(s.pending))

	case "/rate":
		s.rateLastReply(args)

	case "/stop":
		s.orch.Stop()

	case "/history":
		s.printTranscript()

	case "/quit", "/q", "/exit":
		return false

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (type /help for commands)\n", command)
	}
	return true
}

func (s *chatSession) rateLastReply(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: /rate <up|down>")
		return
	}
	var rating model.Rating
	switch strings.ToLower(args[0]) {
	case "up":
		rating = model.RatingUp
	case "down":
		rating = model.RatingDown
	default:
		fmt.Fprintln(os.Stderr, "usage: /rate <up|down>")
		return
	}

	conv := s.store.Current()
	if conv == nil {
		fmt.Fprintln(os.Stderr, "[error] no conversation")
		return
	}
	var target *model.Message
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == model.RoleAssistant && !conv.Messages[i].IsError {
			target = conv.Messages[i]
			break
		}
	}
	if target == nil {
		fmt.Fprintln(os.Stderr, "[error] nothing to rate yet")
		return
	}
	if err := s.store.RateMessage(conv.ID, target.ID, rating); err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}
	fmt.Printf("[rated %s]\n", rating)
}

// =============================================================================
// DISPLAY
// =============================================================================

func (s *chatSession) printConversations() {
	metas := s.store.List()
	if len(metas) == 0 {
		fmt.Println("[no conversations yet]")
		return
	}
	currentID := s.store.CurrentID()
	for _, meta := range metas {
		marker := " "
		if meta.ID == currentID {
			marker = "*"
		}
		synced := " "
		if meta.Provisioned {
			synced = "s"
		}
		fmt.Printf("%s %s [%s] %-3d %s\n",
			marker, meta.ID, synced, meta.MessageCount,
			util.TruncateWidth(meta.Title, 60))
	}
}

func (s *chatSession) printTranscript() {
	conv := s.store.Current()
	if conv == nil || conv.IsEmpty() {
		fmt.Println("[no messages yet]")
		return
	}
	fmt.Println()
	fmt.Println(conv.DisplayTitle())
	for _, msg := range conv.Messages {
		label := msg.Role.DisplayName()
		if msg.IsError {
			label = "Error"
		}
		fmt.Printf("  %s: %s\n", label, util.TruncateWidth(util.FirstLine(msg.Content), 100))
		for _, ref := range msg.Attachments {
			fmt.Printf("      [attachment: %s, %d bytes]\n", ref.Name, ref.Size)
		}
	}
	fmt.Println()
}

func printWelcome(projectID string) {
	fmt.Println()
	fmt.Println("parley — project " + projectID)
	fmt.Println(strings.Repeat("─", 30))
	fmt.Println("Type your message and press Enter. Commands: /help, /quit")
	fmt.Println()
}

func printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new, /n", "Start a fresh conversation"},
		{"/list, /ls", "List conversations this session"},
		{"/load <id>", "Switch to a conversation"},
		{"/attach <file>", "Attach files to the next message"},
		{"/rate <up|down>", "Rate the last reply"},
		{"/stop", "Stop the in-flight generation"},
		{"/history", "Show the current transcript"},
		{"/quit, /q", "Exit"},
	}
	fmt.Println()
	for _, c := range commands {
		fmt.Printf("  %-18s %s\n", c.cmd, c.desc)
	}
	fmt.Println()
	fmt.Println("Ctrl+C stops the current generation, Ctrl+D exits")
	fmt.Println()
}
