// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's HTTP surface: the streamed
// chat endpoint, session management, intent classification, embeddings,
// and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/laurelhq/ai-service/services/gateway/admission"
	"github.com/laurelhq/ai-service/services/gateway/breaker"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/conversation"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/observability"
	"github.com/laurelhq/ai-service/services/gateway/recommend"
	"github.com/laurelhq/ai-service/services/gateway/storage"
	"github.com/laurelhq/ai-service/services/llm"
)

// =============================================================================
// Configuration
// =============================================================================

// StreamOptions carries the per-deployment knobs for the chat stream.
type StreamOptions struct {
	// KeepAliveInterval between comment frames on idle streams.
	KeepAliveInterval time.Duration

	// SessionTTL extends a session's expiry on each completed turn.
	SessionTTL time.Duration

	// MaxHistoryTurns bounds stored conversation history per session.
	MaxHistoryTurns int

	// HistoryWindow bounds how many turns go into each model prompt.
	HistoryWindow int

	// UpstreamTimeout bounds each model call.
	UpstreamTimeout time.Duration

	// RecommendTopK is how many recommendations the side channel carries.
	RecommendTopK int

	// RetryAfter is the retry hint sent with busy frames.
	RetryAfter time.Duration
}

// DefaultStreamOptions returns production settings.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		KeepAliveInterval: 15 * time.Second,
		SessionTTL:        24 * time.Hour,
		MaxHistoryTurns:   datatypes.MaxHistoryTurns,
		HistoryWindow:     10,
		UpstreamTimeout:   30 * time.Second,
		RecommendTopK:     3,
		RetryAfter:        2 * time.Second,
	}
}

// =============================================================================
// Handler
// =============================================================================

// StreamingChatHandler serves the streamed chat endpoint.
//
// # Description
//
// One request runs the full admission and generation pipeline: session
// lock, capacity slot, cached session load, intent classification, the
// streamed model reply, the recommendation side channel, and the durable
// session write. Exactly one terminal frame (busy, error, or done) closes
// every stream that got far enough to open one.
//
// # Thread Safety
//
// Safe for concurrent use. Per-session exclusivity comes from the session
// lock, not from serializing the handler.
type StreamingChatHandler struct {
	llmClient   llm.LLMClient
	classifier  *conversation.Classifier
	recommender recommend.Recommender
	sessions    *storage.SessionStore
	cache       *cache.CoalescingCache
	locks       *admission.SessionLock
	gate        *admission.Controller

	classifyBreaker  *breaker.Breaker[conversation.Intent]
	replyBreaker     *breaker.Breaker[string]
	recommendBreaker *breaker.Breaker[[]datatypes.Recommendation]

	opts   StreamOptions
	tracer trace.Tracer
}

// NewStreamingChatHandler wires the chat pipeline.
//
// recommender may be nil, which disables the side channel. The breakers
// are created here so their lifecycles match the handler's.
func NewStreamingChatHandler(
	llmClient llm.LLMClient,
	classifier *conversation.Classifier,
	recommender recommend.Recommender,
	sessions *storage.SessionStore,
	c *cache.CoalescingCache,
	locks *admission.SessionLock,
	gate *admission.Controller,
	breakerCfg breaker.Config,
	opts StreamOptions,
	tracer trace.Tracer,
) *StreamingChatHandler {
	classifyCfg := breakerCfg
	classifyCfg.Name = "classify"
	replyCfg := breakerCfg
	replyCfg.Name = "reply"
	recommendCfg := breakerCfg
	recommendCfg.Name = "recommend"

	return &StreamingChatHandler{
		llmClient:   llmClient,
		classifier:  classifier,
		recommender: recommender,
		sessions:    sessions,
		cache:       c,
		locks:       locks,
		gate:        gate,
		classifyBreaker: breaker.New[conversation.Intent](classifyCfg).
			WithFallback(func(ctx context.Context) (conversation.Intent, error) {
				return conversation.Intent{
					Type:       conversation.IntentInformation,
					Confidence: 0.5,
					Reasoning:  "classifier unavailable",
				}, nil
			}),
		replyBreaker:     breaker.New[string](replyCfg),
		recommendBreaker: breaker.New[[]datatypes.Recommendation](recommendCfg),
		opts:             opts,
		tracer:           tracer,
	}
}

// HandleChatStream processes POST /v1/chat/stream.
//
// # Description
//
// Admission happens before any SSE bytes are written: a second request
// for an in-flight session is rejected immediately, and a request that
// cannot get a capacity slot within the admission wait is rejected with a
// retry hint. Both rejections still open the stream so the client gets a
// structured busy frame rather than a bare HTTP error.
//
// A client disconnect at any point cancels the upstream call and cleans
// up silently; the terminal frame is skipped because nobody is listening.
func (h *StreamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted()
		defer m.StreamEnded()
	}

	outcome := observability.OutcomeAborted
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(outcome)
			m.RecordStreamDuration(outcome, time.Since(startTime).Seconds())
		}
	}()

	// Step 1: Parse and validate the request.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat stream request", "error", err)
		outcome = observability.OutcomeErrored
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat stream request validation failed",
			"error", err,
			"sessionId", req.SessionId,
		)
		outcome = observability.OutcomeErrored
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	sessionID := req.SessionId
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("request.message_bytes", len(req.Message)),
	)

	// Step 2: Open the stream. Rejections below arrive as busy frames.
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err, "sessionId", sessionID)
		outcome = observability.OutcomeErrored
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	retryMs := int(h.opts.RetryAfter.Milliseconds())

	// Step 3: Per-session exclusivity. One stream per session at a time.
	if !h.locks.TryAcquire(sessionID) {
		span.SetStatus(codes.Error, "session in flight")
		slog.Info("Rejecting chat stream: session already in flight", "sessionId", sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordBusy(datatypes.BusyReasonSessionInFlight)
		}
		outcome = observability.OutcomeBusy
		_ = sseWriter.WriteBusy(datatypes.BusyReasonSessionInFlight, retryMs)
		return
	}
	defer h.locks.Release(sessionID)

	// Step 4: Global capacity. Bounded FIFO wait, then a busy frame.
	slot, err := h.gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, admission.ErrBusy) {
			span.SetStatus(codes.Error, "capacity timeout")
			slog.Info("Rejecting chat stream: capacity wait timed out", "sessionId", sessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordBusy(datatypes.BusyReasonCapacityTimeout)
			}
			outcome = observability.OutcomeBusy
			_ = sseWriter.WriteBusy(datatypes.BusyReasonCapacityTimeout, retryMs)
			return
		}
		// The client left while queued. Nothing to write.
		span.SetStatus(codes.Error, "client disconnected while queued")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect()
		}
		return
	}
	defer slot.Release()

	// Step 5: Heartbeat for the duration of the stream. Background
	// goroutines are joined before the handler returns so nothing touches
	// the response writer after gin reclaims it.
	var streamWG sync.WaitGroup
	heartbeatDone := make(chan struct{})
	defer streamWG.Wait()
	defer close(heartbeatDone)
	streamWG.Add(1)
	go func() {
		defer streamWG.Done()
		h.runHeartbeat(ctx, sseWriter, heartbeatDone)
	}()

	if err := sseWriter.WriteStatus("Thinking..."); err != nil {
		slog.Debug("Failed to write status event", "error", err, "sessionId", sessionID)
		return
	}

	// Step 6: Load or create the session through the coalescing cache.
	sess, err := h.loadSession(ctx, sessionID, req.OwnerId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session load failed")
		slog.Error("Failed to load session", "error", err, "sessionId", sessionID)
		outcome = observability.OutcomeErrored
		_ = sseWriter.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}
	for k, v := range req.Context {
		sess.Context[k] = v
	}

	// Step 7: Classify intent. The breaker's fallback keeps this path
	// from ever failing the request.
	intent, _ := h.classifyBreaker.Fire(ctx, func(ctx context.Context) (conversation.Intent, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.opts.UpstreamTimeout)
		defer cancel()
		return h.classifier.Classify(callCtx, req.Message, sess)
	})
	span.SetAttributes(attribute.String("intent.type", intent.Type))

	// Step 8: Recommendation side channel, concurrent with the reply.
	recsDone := h.startRecommendations(ctx, &streamWG, sseWriter, sess, req.Message, intent)

	// Step 9: Stream the reply.
	sess.AppendTurn("user", req.Message, h.opts.MaxHistoryTurns)
	messages := conversation.BuildReplyMessages(sess, req.Message, intent, h.opts.HistoryWindow)

	firstPartial := time.Time{}
	reply, streamErr := h.replyBreaker.Fire(ctx, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, h.opts.UpstreamTimeout)
		defer cancel()
		return h.streamReply(callCtx, messages, sseWriter, &firstPartial)
	})

	// Let the side channel finish before the terminal frame.
	select {
	case <-recsDone:
	case <-ctx.Done():
	}

	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) && ctx.Err() != nil {
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Chat stream aborted by client", "sessionId", sessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect()
			}
			return
		}
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "reply streaming failed")
		slog.Error("Reply streaming failed", "error", streamErr, "sessionId", sessionID)
		outcome = observability.OutcomeErrored
		if errors.Is(streamErr, breaker.ErrOpen) {
			_ = sseWriter.WriteError("Service temporarily unavailable, please retry shortly")
		} else {
			_ = sseWriter.WriteError(sanitizeErrorForClient(streamErr.Error()))
		}
		return
	}

	if !firstPartial.IsZero() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstPartial(firstPartial.Sub(startTime).Seconds())
		}
	}

	// Step 10: Persist the completed turn, then the done frame. A failed
	// save is an error frame: the client must not believe a turn was
	// recorded when it was not.
	sess.AppendTurn("assistant", reply, h.opts.MaxHistoryTurns)
	sess.Touch(h.opts.SessionTTL)
	if err := h.saveSession(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session save failed")
		slog.Error("Failed to persist session turn", "error", err, "sessionId", sessionID)
		outcome = observability.OutcomeErrored
		_ = sseWriter.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}

	if err := sseWriter.WriteDone(sessionID); err != nil {
		slog.Debug("Failed to write done event", "error", err, "sessionId", sessionID)
		return
	}
	outcome = observability.OutcomeCompleted
}

// =============================================================================
// Pipeline Steps
// =============================================================================

// loadSession reads the session through the coalescing cache, creating a
// fresh one when no live record exists. An expired record is treated the
// same as a missing one.
func (h *StreamingChatHandler) loadSession(ctx context.Context, id, ownerID string) (*datatypes.Session, error) {
	raw, err := h.cache.Get(ctx, storage.SessionKey(id))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return datatypes.NewSession(id, ownerID, h.opts.SessionTTL), nil
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var sess datatypes.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		slog.Warn("Discarding undecodable session record", "sessionId", id, "error", err)
		return datatypes.NewSession(id, ownerID, h.opts.SessionTTL), nil
	}
	if sess.Expired(time.Now()) {
		return datatypes.NewSession(id, ownerID, h.opts.SessionTTL), nil
	}
	if sess.Context == nil {
		sess.Context = make(map[string]any)
	}
	return &sess, nil
}

// saveSession writes the durable record first, then refreshes the memory
// layer so subsequent reads see the new turn without a store round trip.
func (h *StreamingChatHandler) saveSession(ctx context.Context, sess *datatypes.Session) error {
	if err := h.sessions.Save(ctx, sess); err != nil {
		return err
	}
	if raw, err := json.Marshal(sess); err == nil {
		h.cache.Prime(storage.SessionKey(sess.ID), raw, 0)
	}
	return nil
}

// streamReply runs the model stream, forwarding each fragment as a
// partial frame and returning the accumulated reply.
func (h *StreamingChatHandler) streamReply(ctx context.Context, messages []llm.ChatMessage, writer SSEWriter, firstPartial *time.Time) (string, error) {
	var reply []byte
	err := h.llmClient.ChatStream(ctx, messages, llm.GenerationParams{}, func(chunk llm.StreamChunk) error {
		if chunk.Done || chunk.Content == "" {
			return nil
		}
		if firstPartial.IsZero() {
			*firstPartial = time.Now()
		}
		reply = append(reply, chunk.Content...)
		return writer.WritePartial(chunk.Content)
	})
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("model produced an empty reply")
	}
	return string(reply), nil
}

// startRecommendations launches the side channel when the intent calls
// for it. The returned channel closes when the side channel has either
// written its frame or given up; failures are logged and swallowed, the
// reply does not depend on them.
func (h *StreamingChatHandler) startRecommendations(ctx context.Context, wg *sync.WaitGroup, writer SSEWriter, sess *datatypes.Session, message string, intent conversation.Intent) <-chan struct{} {
	done := make(chan struct{})
	if h.recommender == nil || intent.Type == conversation.IntentQuestion {
		close(done)
		return done
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		recs, err := h.recommendBreaker.Fire(ctx, func(ctx context.Context) ([]datatypes.Recommendation, error) {
			callCtx, cancel := context.WithTimeout(ctx, h.opts.UpstreamTimeout)
			defer cancel()
			return h.recommender.Recommend(callCtx, recommendQuery(sess, message), h.opts.RecommendTopK)
		})
		if err != nil {
			slog.Warn("Recommendation side channel failed", "error", err, "sessionId", sess.ID)
			return
		}
		if len(recs) == 0 {
			return
		}
		if err := writer.WriteRecommendations(recs); err != nil {
			slog.Debug("Failed to write recommendations event", "error", err, "sessionId", sess.ID)
		}
	}()
	return done
}

// recommendQuery folds the collected context into the search text so
// recommendations reflect the whole conversation, not just one message.
func recommendQuery(sess *datatypes.Session, message string) string {
	if sess == nil || len(sess.Context) == 0 {
		return message
	}
	query := message
	for k, v := range sess.Context {
		query += fmt.Sprintf("\n%s: %v", k, v)
	}
	return query
}

// runHeartbeat sends keep-alive comments until the stream ends.
//
// Errors writing keepalives stop the heartbeat but not the stream; the
// next event write surfaces the broken connection to the pipeline.
func (h *StreamingChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	interval := h.opts.KeepAliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive()
			}
		}
	}
}

// sanitizeErrorForClient strips internals from error text before it
// reaches the stream.
func sanitizeErrorForClient(errMsg string) string {
	// Log the full error internally for debugging
	slog.Debug("Sanitizing error for client", "original_error", errMsg)

	// Return generic message - don't expose internals
	return "An error occurred while processing your request"
}
