// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Server exposes a Handler over HTTP. POST /v1/process streams the
// event sequence as Server-Sent Events; /v1/feedback and /v1/forget
// are plain JSON round trips.
type Server struct {
	handler Handler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer wraps handler in the HTTP transport.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{handler: handler, logger: logger, mux: http.NewServeMux()}
	server.mux.HandleFunc("POST /v1/process", server.handleProcess)
	server.mux.HandleFunc("POST /v1/feedback", server.handleFeedback)
	server.mux.HandleFunc("POST /v1/forget", server.handleForget)
	return server
}

// ServeHTTP implements http.Handler.
func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	server.mux.ServeHTTP(writer, request)
}

func (server *Server) handleProcess(writer http.ResponseWriter, httpRequest *http.Request) {
	var request Request
	if !server.decode(writer, httpRequest, &request) {
		return
	}

	flusher, ok := writer.(http.Flusher)
	if !ok {
		http.Error(writer, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(event Event) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("bridge: encoding event: %w", err)
		}
		if _, err := fmt.Fprintf(writer, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("bridge: writing event: %w", err)
		}
		flusher.Flush()
		return nil
	}

	if err := server.handler.Process(httpRequest.Context(), request, sink); err != nil {
		// The stream is already committed; all we can do is log.
		server.logger.Warn("process stream aborted",
			"request_id", request.RequestID,
			"error", err,
		)
	}
}

func (server *Server) handleFeedback(writer http.ResponseWriter, httpRequest *http.Request) {
	var feedback Feedback
	if !server.decode(writer, httpRequest, &feedback) {
		return
	}

	ack, err := server.handler.Feedback(httpRequest.Context(), feedback)
	if err != nil {
		server.logger.Error("feedback failed", "error", err)
		http.Error(writer, "feedback failed", http.StatusInternalServerError)
		return
	}
	server.respond(writer, ack)
}

func (server *Server) handleForget(writer http.ResponseWriter, httpRequest *http.Request) {
	var request ForgetRequest
	if !server.decode(writer, httpRequest, &request) {
		return
	}

	if err := server.handler.Forget(httpRequest.Context(), request); err != nil {
		server.logger.Error("forget failed", "error", err)
		http.Error(writer, "forget failed", http.StatusInternalServerError)
		return
	}
	server.respond(writer, struct{}{})
}

func (server *Server) decode(writer http.ResponseWriter, httpRequest *http.Request, target any) bool {
	if err := json.NewDecoder(httpRequest.Body).Decode(target); err != nil {
		http.Error(writer, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (server *Server) respond(writer http.ResponseWriter, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		server.logger.Warn("writing response failed", "error", err)
	}
}
