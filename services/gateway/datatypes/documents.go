// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// FetchDocumentRequest is the body of POST /v1/documents/fetch.
type FetchDocumentRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

// Validate checks the request against its validation tags.
func (r *FetchDocumentRequest) Validate() error {
	return chatValidate.Struct(r)
}

// FetchDocumentResponse is the unary response of POST /v1/documents/fetch.
type FetchDocumentResponse struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
	Cached      bool      `json:"cached"`
}
