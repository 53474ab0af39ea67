/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Error Taxonomy
==============

KVError is the structured error type used throughout the node (WAL,
raft, rpc) and by the client library. Every error carries a stable
ErrorCode so callers can branch on kind without string matching, plus a
human Message and optional Detail/Hint/Cause for diagnostics.

Error Hierarchy:
================

  KVError (base)
    ├── WAL errors       (I/O failure, corruption, tail corruption)
    ├── Protocol errors  (framing, oversized payload)
    ├── Raft errors      (stale term, not leader)
    ├── Transport errors (send failure, pool exhausted)
    └── Client errors    (the closed enum surfaced to library callers)
*/
package errors

import "fmt"

// ErrorCode identifies the kind of failure a KVError represents.
type ErrorCode int

const (
	// General (1000s)
	CodeUnknown  ErrorCode = 1000
	CodeInternal ErrorCode = 1001
	CodeTimeout  ErrorCode = 1002

	// WAL (2000s)
	CodeWALIOFailure   ErrorCode = 2000
	CodeWALCorruption  ErrorCode = 2001
	CodeWALTailCorrupt ErrorCode = 2002

	// Protocol / transport (3000s)
	CodeProtocolFraming  ErrorCode = 3000
	CodeTransportSend    ErrorCode = 3001
	CodePoolExhausted    ErrorCode = 3002
	CodeConnectionFailed ErrorCode = 3003

	// Raft (4000s)
	CodeStaleTerm ErrorCode = 4000
	CodeNotLeader ErrorCode = 4001
	CodeNoLeader  ErrorCode = 4002

	// KV store (5000s)
	CodeKeyNotFound ErrorCode = 5000
	CodeCasFailed   ErrorCode = 5001

	// Client library (6000s)
	CodeNotConnected    ErrorCode = 6000
	CodeLeaderRedirect  ErrorCode = 6001
	CodeInvalidResponse ErrorCode = 6002
	CodeAllNodesFailed  ErrorCode = 6003
)

// Category groups error codes for coarse-grained handling/logging.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryWAL       Category = "wal"
	CategoryTransport Category = "transport"
	CategoryRaft      Category = "raft"
	CategoryKV        Category = "kv"
	CategoryClient    Category = "client"
)

func (c ErrorCode) category() Category {
	switch {
	case c >= 2000 && c < 3000:
		return CategoryWAL
	case c >= 3000 && c < 4000:
		return CategoryTransport
	case c >= 4000 && c < 5000:
		return CategoryRaft
	case c >= 5000 && c < 6000:
		return CategoryKV
	case c >= 6000 && c < 7000:
		return CategoryClient
	default:
		return CategoryGeneral
	}
}

// KVError is the structured error type returned from the node's internal
// packages and from the client library.
type KVError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

// Error implements the error interface.
func (e *KVError) Error() string {
	msg := fmt.Sprintf("[%s:%d] %s", e.Category, e.Code, e.Message)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any, to errors.Is/As.
func (e *KVError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a copy of e with Detail set.
func (e *KVError) WithDetail(detail string) *KVError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithHint returns a copy of e with Hint set.
func (e *KVError) WithHint(hint string) *KVError {
	cp := *e
	cp.Hint = hint
	return &cp
}

// WithCause returns a copy of e with Cause set.
func (e *KVError) WithCause(cause error) *KVError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// New constructs a KVError of the given code with its category inferred.
func New(code ErrorCode, message string) *KVError {
	return &KVError{Code: code, Category: code.category(), Message: message}
}

// Constructors for the error kinds named in the error handling design.

func WALIOFailure(detail string, cause error) *KVError {
	return New(CodeWALIOFailure, "wal i/o failure").WithDetail(detail).WithCause(cause)
}

func WALCorruption(detail string) *KVError {
	return New(CodeWALCorruption, "wal corruption (non-tail)").WithDetail(detail)
}

func WALTailCorruption(detail string) *KVError {
	return New(CodeWALTailCorrupt, "wal tail corruption").WithDetail(detail)
}

func ProtocolFraming(detail string) *KVError {
	return New(CodeProtocolFraming, "protocol framing error").WithDetail(detail)
}

func TransportSendFailure(peer string, cause error) *KVError {
	return New(CodeTransportSend, "transport send failure").WithDetail(peer).WithCause(cause)
}

func PoolExhausted(peer string) *KVError {
	return New(CodePoolExhausted, "connection pool exhausted").WithDetail(peer)
}

func NotLeader(leaderHint string) *KVError {
	return New(CodeNotLeader, "not leader").WithHint(leaderHint)
}

func KeyNotFound(key string) *KVError {
	return New(CodeKeyNotFound, "key not found").WithDetail(key)
}

func CasFailed(key string) *KVError {
	return New(CodeCasFailed, "cas version mismatch").WithDetail(key)
}

// ClientErrorKind is the closed enum of error kinds the client library
// surfaces to its callers, per the error handling design.
type ClientErrorKind int

const (
	ErrNotConnected ClientErrorKind = iota
	ErrNoLeader
	ErrLeaderRedirect
	ErrTimeout
	ErrKeyNotFound
	ErrCasFailed
	ErrInternalError
	ErrInvalidResponse
	ErrAllNodesFailed
	ErrConnectionFailed
)

// String returns the enum member's name.
func (k ClientErrorKind) String() string {
	switch k {
	case ErrNotConnected:
		return "NotConnected"
	case ErrNoLeader:
		return "NoLeader"
	case ErrLeaderRedirect:
		return "LeaderRedirect"
	case ErrTimeout:
		return "Timeout"
	case ErrKeyNotFound:
		return "KeyNotFound"
	case ErrCasFailed:
		return "CasFailed"
	case ErrInternalError:
		return "InternalError"
	case ErrInvalidResponse:
		return "InvalidResponse"
	case ErrAllNodesFailed:
		return "AllNodesFailed"
	case ErrConnectionFailed:
		return "ConnectionFailed"
	default:
		return "Unknown"
	}
}

// ClientError is the error type returned by the client library; Kind is
// the closed enum callers are expected to switch on.
type ClientError struct {
	Kind    ClientErrorKind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// NewClientError constructs a ClientError.
func NewClientError(kind ClientErrorKind, message string, cause error) *ClientError {
	return &ClientError{Kind: kind, Message: message, Cause: cause}
}

// Code extracts the ErrorCode from err if it is (or wraps) a *KVError.
func Code(err error) (ErrorCode, bool) {
	var kerr *KVError
	if as(err, &kerr) {
		return kerr.Code, true
	}
	return 0, false
}

// IsFatal reports whether err represents a condition after which the node
// may no longer safely participate (WAL I/O failure or non-tail corruption).
func IsFatal(err error) bool {
	code, ok := Code(err)
	if !ok {
		return false
	}
	return code == CodeWALIOFailure || code == CodeWALCorruption
}

// as is a tiny local errors.As to avoid importing the standard "errors"
// package under a name that collides with this package's own name.
func as(err error, target **KVError) bool {
	for err != nil {
		if kerr, ok := err.(*KVError); ok {
			*target = kerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
