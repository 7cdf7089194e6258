// Package dualllm implements the dual-LLM context evaluator: when a
// conversation contains untrusted tool content, it isolates that content in
// a secondary, sandboxed model call constrained to a finite candidate-answer
// set, so the untrusted bytes never reach the primary model.
package dualllm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// PendingContent is one tool-result message whose content is untrusted (but
// not blocked) and must be summarised through the secondary model rather
// than forwarded verbatim.
type PendingContent struct {
	ToolCallID string
	ToolName   string
	Content    string
}

// ProgressEvent is one (question, options, answer) tuple, forwarded by the
// caller as a provider-specific streaming event when the primary request is
// itself streaming.
type ProgressEvent struct {
	ToolCallID string
	Question   string
	Options    []string
	Answer     string
}

// Result is the outcome of one Evaluate call.
type Result struct {
	// ToolResultRewrites maps tool_call_id to the sanitised content that
	// must replace the original, untrusted tool-result content.
	ToolResultRewrites map[string]string

	// ContextIsTrusted is true iff pending was empty — no untrusted or
	// blocked tool messages were present at evaluation time.
	ContextIsTrusted bool
}

// Evaluator runs the secondary, isolated model call.
type Evaluator struct {
	// newSecondaryClient builds a fresh provider.Client per call, keyed by
	// the caller-supplied upstream API key: a new HTTP client, no shared
	// headers or connection pool, satisfying §5's isolation requirement
	// without a second transport stack, while still authenticating with
	// the same upstream credential the inbound request carried.
	newSecondaryClient func(apiKey string) provider.Client
	model              string
	maxTokens          int
	logger             *slog.Logger
}

// New builds an Evaluator. newSecondaryClient must return an isolated
// client instance on every call, authenticated with the apiKey it is given.
func New(newSecondaryClient func(apiKey string) provider.Client, model string, maxTokens int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Evaluator{newSecondaryClient: newSecondaryClient, model: model, maxTokens: maxTokens, logger: logger}
}

// Model returns the secondary model name, for tracing/logging.
func (e *Evaluator) Model() string { return e.model }

// Evaluate isolates each pending content blob behind a secondary model call
// constrained to reply with a single candidate index, and reports the
// resulting rewrites plus whether the conversation's context is trusted.
// progress may be nil; when non-nil, one ProgressEvent is sent per pending
// item, in order.
func (e *Evaluator) Evaluate(ctx context.Context, question string, pending []PendingContent, progress chan<- ProgressEvent, apiKey string) Result {
	if len(pending) == 0 {
		return Result{ToolResultRewrites: map[string]string{}, ContextIsTrusted: true}
	}

	rewrites := make(map[string]string, len(pending))
	for _, p := range pending {
		options := candidatesForTool(p.ToolName)
		answer := e.askSecondary(ctx, question, p.Content, options, apiKey)
		rewrites[p.ToolCallID] = answer

		if progress != nil {
			progress <- ProgressEvent{
				ToolCallID: p.ToolCallID,
				Question:   question,
				Options:    options,
				Answer:     answer,
			}
		}
	}

	return Result{ToolResultRewrites: rewrites, ContextIsTrusted: false}
}

// askSecondary sends the isolated content and the candidate list to a fresh
// provider.Client and returns the chosen option. Fail-closed: a failed
// secondary call yields an empty rewrite rather than the original content,
// and an unparseable reply yields the fallback option (see selectOption).
func (e *Evaluator) askSecondary(ctx context.Context, question, isolatedContent string, options []string, apiKey string) string {
	client := e.newSecondaryClient(apiKey)

	req := &provider.Request{
		Model:     e.model,
		System:    "You answer strictly with the index number of exactly one option. Never repeat or quote the content you are given.",
		MaxTokens: e.maxTokens,
		Messages: []provider.Message{{
			Role:    provider.RoleUser,
			Content: buildPrompt(question, isolatedContent, options),
		}},
	}

	resp, err := client.Generate(ctx, req)
	if err != nil {
		e.logger.Warn("dualllm: secondary model call failed, rewriting to empty string", "error", err)
		return ""
	}

	return selectOption(resp.Text, options)
}

func buildPrompt(question, isolatedContent string, options []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nIsolated content:\n%s\n\nOptions:\n", question, isolatedContent)
	for i, opt := range options {
		fmt.Fprintf(&b, "%d: %s\n", i, opt)
	}
	b.WriteString("\nReply with only the index number of the best option.")
	return b.String()
}

// selectOption parses text as an integer index into options, clamping into
// range. A malformed response is treated as "no match" — the fallback
// option if present, otherwise the first option.
func selectOption(text string, options []string) string {
	idx, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || idx < 0 || idx >= len(options) {
		for _, opt := range options {
			if opt == fallbackOption {
				return fallbackOption
			}
		}
		return options[0]
	}
	return options[idx]
}
