// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation handles the dialog-understanding side of the
// gateway: intent classification and prompt assembly for the reply model.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/llm"
)

// Intent labels.
const (
	IntentQuestion    = "question"
	IntentInformation = "information"
	IntentMixed       = "mixed"
)

// Intent is the classifier's verdict on one user message.
type Intent struct {
	Type       string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

const classifierSystemPrompt = `You are an intent classifier for an intake assistant.

Analyze the user's message and classify their intent:

1. "question" - User is asking about the program, categories, deadlines, or eligibility.
2. "information" - User is providing submission details.
3. "mixed" - User is both asking a question AND providing information.

Respond ONLY with valid JSON in this exact format:
{"intent":"question|information|mixed","confidence":0.95,"reasoning":"brief explanation"}`

// Classifier labels user messages with an intent using a small LLM call.
//
// # Thread Safety
//
// Safe for concurrent use; holds no mutable state.
type Classifier struct {
	client llm.LLMClient
	// historyWindow caps how many recent turns go into the prompt.
	historyWindow int
}

// NewClassifier wraps the given LLM client. client must not be nil.
func NewClassifier(client llm.LLMClient) *Classifier {
	return &Classifier{client: client, historyWindow: 6}
}

// Classify labels message in the light of the session's recent history.
//
// # Outputs
//
//   - Intent: always populated. On any upstream or parse failure the
//     result degrades to information intent at 0.5 confidence rather
//     than failing the request.
//   - error: non-nil only when the upstream call itself failed; callers
//     decide whether that trips their breaker.
func (c *Classifier) Classify(ctx context.Context, message string, sess *datatypes.Session) (Intent, error) {
	temp := float32(0.3)
	maxTokens := 150
	prompt := c.buildUserPrompt(message, sess)

	raw, err := c.client.Generate(ctx,
		[]llm.ChatMessage{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: prompt},
		},
		llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens},
	)
	if err != nil {
		slog.Error("conversation: intent call failed", "error", err)
		return fallbackIntent("classification call failed"), err
	}

	intent, perr := parseIntent(raw)
	if perr != nil {
		slog.Warn("conversation: unparseable intent response",
			"error", perr,
			"response_length", len(raw))
		return fallbackIntent("unparseable classifier response"), nil
	}
	slog.Debug("conversation: intent classified",
		"intent", intent.Type,
		"confidence", intent.Confidence)
	return intent, nil
}

func fallbackIntent(reason string) Intent {
	return Intent{Type: IntentInformation, Confidence: 0.5, Reasoning: reason}
}

// parseIntent decodes the model's JSON, tolerating markdown code fences
// and clamping out-of-range values.
func parseIntent(raw string) (Intent, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var intent Intent
	if err := json.Unmarshal([]byte(s), &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent JSON: %w", err)
	}
	switch intent.Type {
	case IntentQuestion, IntentInformation, IntentMixed:
	default:
		intent.Type = IntentInformation
	}
	if intent.Confidence < 0 {
		intent.Confidence = 0
	}
	if intent.Confidence > 1 {
		intent.Confidence = 1
	}
	return intent, nil
}

// buildUserPrompt summarizes collected context and recent history around
// the new message.
func (c *Classifier) buildUserPrompt(message string, sess *datatypes.Session) string {
	var b strings.Builder
	b.WriteString("Current context collected:\n")
	b.WriteString(summarizeContext(sess))
	b.WriteString("\n\nRecent conversation:\n")
	b.WriteString(summarizeHistory(sess, c.historyWindow))
	fmt.Fprintf(&b, "\n\nUser's latest message: %q\n\nClassify the intent of this message.", message)
	return b.String()
}

func summarizeContext(sess *datatypes.Session) string {
	if sess == nil || len(sess.Context) == 0 {
		return "No context collected yet"
	}
	lines := make([]string, 0, len(sess.Context))
	for k, v := range sess.Context {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, v))
	}
	return strings.Join(lines, "\n")
}

func summarizeHistory(sess *datatypes.Session, window int) string {
	if sess == nil || len(sess.History) == 0 {
		return "No previous conversation"
	}
	turns := sess.RecentHistory(window)
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		content := t.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, content))
	}
	return strings.Join(lines, "\n")
}
