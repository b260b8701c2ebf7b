// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verji/vagent/checkpoint"
	"github.com/verji/vagent/engine"
	"github.com/verji/vagent/hitl"
)

// Service is the in-process Handler: HITL interception followed by a
// workflow run, with the coordinator consulted before any message is
// treated as a new query.
type Service struct {
	engine      *engine.Engine
	coordinator *hitl.Coordinator
	logger      *slog.Logger
}

// NewService creates the workflow-side bridge handler.
func NewService(workflow *engine.Engine, coordinator *hitl.Coordinator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: workflow, coordinator: coordinator, logger: logger}
}

// Process implements Handler. Workflow panics become error events
// rather than tearing down the stream without a terminal.
func (service *Service) Process(ctx context.Context, request Request, sink EventSink) (err error) {
	var sinkErr error
	emit := func(event Event) {
		if sinkErr == nil {
			sinkErr = sink(event)
		}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			service.logger.Error("workflow panic",
				"request_id", request.RequestID,
				"panic", recovered,
			)
			emit(Event{Type: EventError, Code: CodeInternal, Message: "internal workflow failure"})
			err = sinkErr
		}
	}()

	emit(service.run(ctx, request, emit))
	return sinkErr
}

// run executes one request to its terminal event.
func (service *Service) run(ctx context.Context, request Request, emit func(Event)) Event {
	progress := func(text string) {
		emit(Event{Type: EventProgress, Text: text})
	}

	verdict, err := service.coordinator.Intercept(request.Session, request.User, request.Query)
	if err != nil {
		return service.errorEvent(request, err)
	}

	var result *engine.Result
	switch verdict.Disposition {
	case hitl.Reprompt:
		// Invalid reply to a live gate: re-ask, gate untouched.
		return Event{Type: EventFinal, Text: verdict.Reprompt}
	case hitl.Resume:
		result, err = service.engine.Resume(ctx, engine.ResumeRequest{
			Session:     request.Session,
			Room:        request.Room,
			User:        request.User,
			Reply:       request.Query,
			RoomContext: request.RoomContext,
			Progress:    progress,
		})
	default:
		result, err = service.engine.Process(ctx, engine.Request{
			Session:     request.Session,
			Room:        request.Room,
			User:        request.User,
			Query:       request.Query,
			RoomContext: request.RoomContext,
			Progress:    progress,
		})
	}
	if err != nil {
		return service.errorEvent(request, err)
	}

	if result.HITL != nil {
		return Event{
			Type:           EventHITL,
			Question:       result.HITL.Question,
			Options:        result.HITL.Options,
			TimeoutSeconds: int(result.HITL.Timeout.Seconds()),
		}
	}
	return Event{Type: EventFinal, Text: result.Answer}
}

// Feedback implements Handler: a plain request/ack reply path with no
// event stream. An accepted reply runs the workflow to completion and
// carries its outcome in the ack.
func (service *Service) Feedback(ctx context.Context, feedback Feedback) (FeedbackAck, error) {
	verdict, err := service.coordinator.Intercept(feedback.Session, feedback.User, feedback.Reply)
	if errors.Is(err, hitl.ErrWrongUser) {
		return FeedbackAck{Reason: "the pending approval belongs to a different user"}, nil
	}
	if err != nil {
		return FeedbackAck{}, err
	}

	switch verdict.Disposition {
	case hitl.NewQuery:
		return FeedbackAck{Reason: "no pending approval for this session"}, nil
	case hitl.Reprompt:
		return FeedbackAck{Reason: verdict.Reprompt}, nil
	}

	result, err := service.engine.Resume(ctx, engine.ResumeRequest{
		Session: feedback.Session,
		Room:    feedback.Room,
		User:    feedback.User,
		Reply:   feedback.Reply,
	})
	if err != nil {
		return FeedbackAck{}, err
	}

	ack := FeedbackAck{Accepted: true}
	if result.HITL != nil {
		ack.Answer = result.HITL.Question
	} else {
		ack.Answer = result.Answer
	}
	return ack, nil
}

// Forget implements Handler.
func (service *Service) Forget(ctx context.Context, request ForgetRequest) error {
	return service.engine.Forget(ctx, request.Session)
}

// errorEvent maps workflow failures onto the stream's error taxonomy.
func (service *Service) errorEvent(request Request, err error) Event {
	service.logger.Error("workflow request failed",
		"request_id", request.RequestID,
		"error", err,
	)
	switch {
	case errors.Is(err, checkpoint.ErrIntegrity):
		return Event{
			Type:    EventError,
			Code:    CodeStateUnavailable,
			Message: "Your conversation state is unavailable. Please start a fresh conversation.",
		}
	case errors.Is(err, hitl.ErrWrongUser):
		return Event{
			Type:    EventError,
			Code:    CodeWrongUser,
			Message: "This approval request belongs to a different user.",
		}
	default:
		return Event{
			Type:    EventError,
			Code:    CodeInternal,
			Message: fmt.Sprintf("request failed: %v", err),
		}
	}
}
