// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurelhq/ai-service/services/gateway/breaker"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/fetcher"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

// stubHTTPClient serves a fixed body and counts calls.
type stubHTTPClient struct {
	body  string
	err   error
	calls int
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func newDocumentsRouter(t *testing.T, client *stubHTTPClient) (*gin.Engine, *cache.CoalescingCache) {
	t.Helper()

	store, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := cache.New(store, cache.Options{DefaultTTL: time.Minute})
	t.Cleanup(c.Close)

	f := fetcher.New(client, 100, 10)
	router := gin.New()
	router.POST("/v1/documents/fetch", HandleFetchDocument(f, c, time.Minute,
		breaker.Config{FailureThreshold: 3, ResetTimeout: time.Second}))
	return router, c
}

func fetchDocument(t *testing.T, router *gin.Engine, url string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(datatypes.FetchDocumentRequest{URL: url})
	require.NoError(t, err)

	req, _ := http.NewRequest("POST", "/v1/documents/fetch", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleFetchDocument_Success(t *testing.T) {
	client := &stubHTTPClient{body: "reference text"}
	router, _ := newDocumentsRouter(t, client)

	w := fetchDocument(t, router, "https://example.com/doc")
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.FetchDocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://example.com/doc", resp.URL)
	assert.Equal(t, "reference text", resp.Body)
	assert.False(t, resp.Cached)
}

func TestHandleFetchDocument_SecondFetchIsCached(t *testing.T) {
	client := &stubHTTPClient{body: "reference text"}
	router, _ := newDocumentsRouter(t, client)

	first := fetchDocument(t, router, "https://example.com/doc")
	require.Equal(t, http.StatusOK, first.Code)

	second := fetchDocument(t, router, "https://example.com/doc")
	require.Equal(t, http.StatusOK, second.Code)

	var resp datatypes.FetchDocumentResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, client.calls, "second request should not reach upstream")
}

func TestHandleFetchDocument_InvalidURL(t *testing.T) {
	router, _ := newDocumentsRouter(t, &stubHTTPClient{body: "x"})

	w := fetchDocument(t, router, "not a url")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleFetchDocument_UpstreamFailure(t *testing.T) {
	client := &stubHTTPClient{err: assert.AnError}
	router, _ := newDocumentsRouter(t, client)

	w := fetchDocument(t, router, "https://example.com/doc")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleFetchDocument_BreakerOpens(t *testing.T) {
	client := &stubHTTPClient{err: assert.AnError}
	router, _ := newDocumentsRouter(t, client)

	for i := 0; i < 3; i++ {
		fetchDocument(t, router, "https://example.com/doc")
	}
	callsBefore := client.calls

	w := fetchDocument(t, router, "https://example.com/doc")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, callsBefore, client.calls, "open circuit must not call upstream")
}

func TestDocumentKey(t *testing.T) {
	key := DocumentKey("https://example.com/doc")
	assert.True(t, strings.HasPrefix(key, DocumentKeyPrefix))
	assert.Equal(t, key, DocumentKey("https://example.com/doc"))
	assert.NotEqual(t, key, DocumentKey("https://example.com/other"))
}
