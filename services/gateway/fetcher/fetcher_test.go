// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockHTTPClient implements HTTPClient with a canned response.
type MockHTTPClient struct {
	Response  *http.Response
	Err       error
	LastReq   *http.Request
	CallCount int
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.CallCount++
	m.LastReq = req
	return m.Response, m.Err
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFetch_Success(t *testing.T) {
	mock := &MockHTTPClient{Response: textResponse(200, "hello document")}
	f := New(mock, 100, 10)

	doc, err := f.Fetch(context.Background(), "https://example.com/doc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/doc", doc.URL)
	assert.Equal(t, "text/plain", doc.ContentType)
	assert.Equal(t, []byte("hello document"), doc.Body)
	assert.False(t, doc.FetchedAt.IsZero())
	assert.Equal(t, 1, mock.CallCount)
}

func TestFetch_InvalidURL(t *testing.T) {
	f := New(&MockHTTPClient{}, 100, 10)

	cases := []string{
		"",
		"not a url",
		"ftp://example.com/file",
		"/relative/path",
	}
	for _, rawURL := range cases {
		_, err := f.Fetch(context.Background(), rawURL)
		assert.Error(t, err, "should reject %q", rawURL)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	mock := &MockHTTPClient{Response: textResponse(503, "unavailable")}
	f := New(mock, 100, 10)

	_, err := f.Fetch(context.Background(), "https://example.com/doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetch_TransportError(t *testing.T) {
	mock := &MockHTTPClient{Err: assert.AnError}
	f := New(mock, 100, 10)

	_, err := f.Fetch(context.Background(), "https://example.com/doc")
	assert.Error(t, err)
}

func TestFetch_TruncatesLargeBody(t *testing.T) {
	big := bytes.Repeat([]byte("x"), MaxDocumentBytes+4096)
	mock := &MockHTTPClient{Response: &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(big)),
	}}
	f := New(mock, 100, 10)

	doc, err := f.Fetch(context.Background(), "https://example.com/big")
	require.NoError(t, err)
	assert.Len(t, doc.Body, MaxDocumentBytes, "body should be capped")
}

func TestFetch_RateLimitWaitHonorsContext(t *testing.T) {
	mock := &MockHTTPClient{Response: textResponse(200, "ok")}
	// One request per minute with burst 1: the second fetch must wait.
	f := New(mock, 1.0/60.0, 1)

	_, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, "https://example.com/b")
	assert.Error(t, err, "limiter wait should fail when the context expires first")
}

func TestFetch_SetsAcceptHeader(t *testing.T) {
	mock := &MockHTTPClient{Response: textResponse(200, "ok")}
	f := New(mock, 100, 10)

	_, err := f.Fetch(context.Background(), "https://example.com/doc")
	require.NoError(t, err)
	require.NotNil(t, mock.LastReq)
	assert.NotEmpty(t, mock.LastReq.Header.Get("Accept"))
}
