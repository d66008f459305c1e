package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrModelNotSupported = errors.New("model not supported")
	ErrEmptyConversation = errors.New("conversation has no messages")
)

// ValidationError rejects a request before any network call. Never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error   { return e.Err }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// ProviderError is a non-2xx response from a model backend. Type, Param and Code carry the
// provider-native error fields when the body could be decoded.
type ProviderError struct {
	Provider ProviderName
	Status   int
	Message  string
	Type     string
	Param    string
	Code     string
	Body     string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Body)
}

func (e *ProviderError) StatusCode() int {
	if e.Status >= 400 && e.Status < 600 {
		return e.Status
	}
	return http.StatusBadGateway
}

// TransportError is a network failure or a user-initiated abort.
type TransportError struct {
	Op      string
	Aborted bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Aborted {
		return fmt.Sprintf("%s: request aborted", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) StatusCode() int {
	if e.Aborted {
		return http.StatusRequestTimeout
	}
	return http.StatusBadGateway
}

// NewTransportError classifies err, marking context cancellation and deadlines as aborts.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{
		Op:      op,
		Aborted: errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// ParseError is a malformed stream frame or tool-call payload.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string   { return fmt.Sprintf("parse %s: %v", e.What, e.Err) }
func (e *ParseError) Unwrap() error   { return e.Err }
func (e *ParseError) StatusCode() int { return http.StatusBadGateway }

// ErrorEnvelope is the error shape surfaced to clients.
type ErrorEnvelope struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Envelope maps any error to its client-facing envelope and HTTP status.
func Envelope(err error) (ErrorEnvelope, int) {
	var (
		verr *ValidationError
		perr *ProviderError
		terr *TransportError
		xerr *ParseError
	)
	switch {
	case errors.As(err, &verr):
		title := "Invalid request"
		if errors.Is(err, ErrModelNotSupported) {
			title = "Model not supported"
		}
		return ErrorEnvelope{Title: title, Message: verr.Error()}, verr.StatusCode()
	case errors.As(err, &perr):
		msg := perr.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d: %s", perr.Status, perr.Body)
		}
		return ErrorEnvelope{
			Title:   fmt.Sprintf("Error from %s", perr.Provider),
			Message: msg,
			Type:    perr.Type,
			Param:   perr.Param,
			Code:    perr.Code,
		}, perr.StatusCode()
	case errors.As(err, &terr):
		if terr.Aborted {
			return ErrorEnvelope{Title: "Request stopped", Message: "The request was stopped before it completed."}, terr.StatusCode()
		}
		return ErrorEnvelope{Title: "Network error", Message: terr.Error()}, terr.StatusCode()
	case errors.As(err, &xerr):
		return ErrorEnvelope{Title: "Malformed response", Message: xerr.Error()}, xerr.StatusCode()
	default:
		return ErrorEnvelope{Title: "Internal error", Message: err.Error()}, http.StatusInternalServerError
	}
}
