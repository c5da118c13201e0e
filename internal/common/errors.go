// Package common defines shared constants and sentinel errors used across
// the photovault client layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Transport errors.
	ErrTokenMissing  = errors.New("access token missing")
	ErrRequestFailed = errors.New("request failed")
	ErrUnavailable   = errors.New("server unavailable")

	// Token lifecycle errors. A session-expired error is fatal to a whole
	// sync run, not just to the item being processed.
	ErrInvalidToken   = errors.New("invalid token")
	ErrSessionExpired = errors.New("session expired")

	// Decryption/processing errors are isolated per item unless the item's
	// content stream itself is being decrypted.
	ErrProcessingFailed = errors.New("processing failed")

	// ErrCancelled is the cooperative-cancellation sentinel. It must never be
	// logged as a failure and must short-circuit enclosing loops.
	ErrCancelled = errors.New("request cancelled")

	// ErrQueueCleared resolves tasks that were dropped from a queue before
	// they started.
	ErrQueueCleared = errors.New("queue cleared")
)
