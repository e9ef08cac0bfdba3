// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"strings"

	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/llm"
)

const responderSystemPrompt = `You are a friendly intake assistant. You help users prepare
a submission by answering their questions and collecting the details the
submission needs. Be concise. Ask for at most one missing detail at a time.
If the user asked a question, answer it before asking for anything.`

// BuildReplyMessages assembles the model input for a streamed reply:
// system prompt, recent session history, then the new user message.
//
// The history window bounds prompt growth; the session itself keeps more
// turns than are sent upstream.
func BuildReplyMessages(sess *datatypes.Session, message string, intent Intent, historyWindow int) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, historyWindow+3)

	system := responderSystemPrompt
	if ctx := summarizeContext(sess); ctx != "No context collected yet" {
		system += "\n\nDetails collected so far:\n" + ctx
	}
	if intent.Type == IntentQuestion {
		system += "\n\nThe user is asking a question. Answer it directly."
	}
	msgs = append(msgs, llm.ChatMessage{Role: "system", Content: system})

	if sess != nil {
		for _, t := range sess.RecentHistory(historyWindow) {
			role := t.Role
			if role != "user" && role != "assistant" {
				continue
			}
			msgs = append(msgs, llm.ChatMessage{Role: role, Content: t.Content})
		}
	}
	msgs = append(msgs, llm.ChatMessage{Role: "user", Content: strings.TrimSpace(message)})
	return msgs
}
