// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/conduit-foundation/conduit/lib/chunkstore"
	"github.com/conduit-foundation/conduit/lib/codec"
	"github.com/conduit-foundation/conduit/lib/pipe"
)

// maxRequestBody bounds request bodies. The largest legitimate body is
// an append carrying one chunk: chunk size plus AEAD and CBOR framing
// overhead. 8 MiB leaves room for generous chunk size configurations.
const maxRequestBody = 8 << 20

// pipeHandler adapts the chunkstore service to the HTTP binding: one
// POST endpoint per transport method, CBOR bodies both ways. Protocol
// failures become result codes in a 200 response; only malformed
// requests and encoding failures use non-200 statuses.
type pipeHandler struct {
	service *chunkstore.Service
	logger  *slog.Logger
}

func newPipeHandler(service *chunkstore.Service, logger *slog.Logger) http.Handler {
	h := &pipeHandler{service: service, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+pipe.PathOpen, h.open)
	mux.HandleFunc("POST "+pipe.PathAppend, h.append)
	mux.HandleFunc("POST "+pipe.PathFetch, h.fetch)
	mux.HandleFunc("POST "+pipe.PathAck, h.ack)
	mux.HandleFunc("POST "+pipe.PathClose, h.close)
	return mux
}

func (h *pipeHandler) open(w http.ResponseWriter, r *http.Request) {
	var req pipe.OpenRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.OpenSession(r.Context(), &req)
	if resp == nil {
		resp = &pipe.OpenResponse{}
	}
	resp.Result = pipe.ResultFromError(err)
	h.encode(w, resp)
}

func (h *pipeHandler) append(w http.ResponseWriter, r *http.Request) {
	var req pipe.AppendRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.AppendChunk(r.Context(), &req)
	if resp == nil {
		resp = &pipe.AppendResponse{}
	}
	resp.Result = pipe.ResultFromError(err)
	h.encode(w, resp)
}

func (h *pipeHandler) fetch(w http.ResponseWriter, r *http.Request) {
	var req pipe.FetchRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.FetchChunk(r.Context(), &req)
	if resp == nil {
		resp = &pipe.FetchResponse{}
	}
	resp.Result = pipe.ResultFromError(err)
	h.encode(w, resp)
}

func (h *pipeHandler) ack(w http.ResponseWriter, r *http.Request) {
	var req pipe.AckRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Ack(r.Context(), &req)
	if resp == nil {
		resp = &pipe.AckResponse{}
	}
	resp.Result = pipe.ResultFromError(err)
	h.encode(w, resp)
}

func (h *pipeHandler) close(w http.ResponseWriter, r *http.Request) {
	var req pipe.CloseRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.CloseSession(r.Context(), &req)
	if resp == nil {
		resp = &pipe.CloseResponse{}
	}
	resp.Result = pipe.ResultFromError(err)
	h.encode(w, resp)
}

// decode reads and unmarshals the CBOR request body. On failure it
// writes a 400 and returns false; protocol handling never starts.
func (h *pipeHandler) decode(w http.ResponseWriter, r *http.Request, request any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusBadRequest)
		return false
	}
	if len(body) > maxRequestBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if err := codec.Unmarshal(body, request); err != nil {
		http.Error(w, fmt.Sprintf("decoding request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *pipeHandler) encode(w http.ResponseWriter, response any) {
	body, err := codec.Marshal(response)
	if err != nil {
		h.logger.Error("encoding response", "error", err)
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", pipe.ContentTypeCBOR)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("writing response", "error", err)
	}
}
