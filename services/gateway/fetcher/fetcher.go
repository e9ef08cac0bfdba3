// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetcher retrieves reference documents from external HTTP
// sources, with per-host rate limiting so a burst of cache misses cannot
// hammer one upstream.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxDocumentBytes caps how much of a response body is read.
const MaxDocumentBytes = 1 << 20 // 1 MiB

// HTTPClient interface allows injecting mock HTTP clients for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Document is one fetched resource.
type Document struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Fetcher retrieves documents over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use.
type Fetcher struct {
	client HTTPClient

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
	burst    int
}

// New creates a Fetcher. client may be nil, in which case a default
// client with a 30 second timeout is used. perHostRPS bounds requests per
// second to any single host.
func New(client HTTPClient, perHostRPS float64, burst int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if perHostRPS <= 0 {
		perHostRPS = 2
	}
	if burst < 1 {
		burst = 2
	}
	return &Fetcher{
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(perHostRPS),
		burst:    burst,
	}
}

// Fetch retrieves rawURL, waiting on the host's rate limiter first.
//
// # Outputs
//
//   - *Document: body truncated at MaxDocumentBytes.
//   - error: non-nil on invalid URL, limiter wait cancellation, transport
//     failure, or non-2xx status.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid fetch URL %q", rawURL)
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/json,text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("fetcher: request failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read fetch body: %w", err)
	}

	slog.Debug("fetcher: document retrieved",
		"url", rawURL,
		"bytes", len(body),
		"status", resp.StatusCode)
	return &Document{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

// limiter returns the host's limiter, creating it on first use.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.perHost, f.burst)
		f.limiters[host] = l
	}
	return l
}
