// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/conduit-foundation/conduit/lib/codec"
)

// Endpoint paths of the HTTP binding. The server handler and
// HTTPTransport share them.
const (
	PathOpen   = "/v1/pipe/open"
	PathAppend = "/v1/pipe/append"
	PathFetch  = "/v1/pipe/fetch"
	PathAck    = "/v1/pipe/ack"
	PathClose  = "/v1/pipe/close"
)

// ContentTypeCBOR is the media type of every request and response
// body in the HTTP binding.
const ContentTypeCBOR = "application/cbor"

// HTTPTransport is the client side of the HTTP binding: each
// Transport call is one POST with a CBOR body. Protocol failures
// arrive as result codes in a 200 response and are rehydrated into
// this package's typed errors; non-200 statuses are transport errors
// and subject to the caller's retry policy.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport for a server base URL such as
// "http://127.0.0.1:8750". A nil client uses http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// OpenSession implements Transport.
func (t *HTTPTransport) OpenSession(ctx context.Context, req *OpenRequest) (*OpenResponse, error) {
	resp := &OpenResponse{}
	if err := t.post(ctx, PathOpen, req, resp); err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// AppendChunk implements Transport.
func (t *HTTPTransport) AppendChunk(ctx context.Context, req *AppendRequest) (*AppendResponse, error) {
	resp := &AppendResponse{}
	if err := t.post(ctx, PathAppend, req, resp); err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchChunk implements Transport.
func (t *HTTPTransport) FetchChunk(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	resp := &FetchResponse{}
	if err := t.post(ctx, PathFetch, req, resp); err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Ack implements Transport.
func (t *HTTPTransport) Ack(ctx context.Context, req *AckRequest) (*AckResponse, error) {
	resp := &AckResponse{}
	if err := t.post(ctx, PathAck, req, resp); err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// CloseSession implements Transport.
func (t *HTTPTransport) CloseSession(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	resp := &CloseResponse{}
	if err := t.post(ctx, PathClose, req, resp); err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, request, response any) error {
	body, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeCBOR)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		// Read a little of the body for the error message; the
		// server sends plain text for non-protocol failures.
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("%s: server returned %s: %s",
			path, httpResp.Status, strings.TrimSpace(string(detail)))
	}

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if err := codec.Unmarshal(payload, response); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

var _ Transport = (*HTTPTransport)(nil)
