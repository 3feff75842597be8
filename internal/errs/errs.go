// Package errs implements the process-wide error code taxonomy.
//
// It follows the registered-code pattern of the teacher's own errs package
// (a map from code to description, with a single Error type that renders
// "[group] description: detail"), generalized to one table for the whole
// module rather than one table per package, as called for by the
// source's "error category is a single process-wide descriptor table"
// design note.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Code is a stable numeric error code. Zero (Success) is not an error.
type Code int

const (
	// Generic
	Success Code = iota
	Unknown
	Bypassed
	OperationFailed
	OperationCanceled
	OperationTimeout

	// Addresses
	AddressNotFound
	AddressBlocked
	AddressInUse
	SeedingUnsuccessful

	// File
	FileLoad
	FileSave
	FileSystem

	// I/O
	BadStream

	// Inbound
	ListenFailed
	AcceptFailed
	Oversubscribed

	// Outbound
	ResolveFailed
	ConnectFailed

	// Framing
	InvalidHeading
	InvalidMagic
	OversizedPayload
	InvalidChecksum
	InvalidMessage
	UnknownMessage

	// Peer
	ProtocolViolation
	InvalidConfiguration
	ChannelConflict

	// Termination
	ChannelTimeout
	ChannelDropped
	ChannelStopped
	ServiceStopped
	SubscriberStopped
)

// Table is the constant-after-init process-wide code -> description map.
var Table = map[Code]string{
	Success:           "success",
	Unknown:           "unknown error",
	Bypassed:          "bypassed",
	OperationFailed:   "operation failed",
	OperationCanceled: "operation canceled",
	OperationTimeout:  "operation timeout",

	AddressNotFound:     "address not found",
	AddressBlocked:      "address blocked",
	AddressInUse:        "address in use",
	SeedingUnsuccessful: "seeding unsuccessful",

	FileLoad:   "file load failed",
	FileSave:   "file save failed",
	FileSystem: "file system error",

	BadStream: "bad stream",

	ListenFailed:    "listen failed",
	AcceptFailed:    "accept failed",
	Oversubscribed:  "oversubscribed",

	ResolveFailed: "resolve failed",
	ConnectFailed: "connect failed",

	InvalidHeading:    "invalid heading",
	InvalidMagic:      "invalid magic",
	OversizedPayload:  "oversized payload",
	InvalidChecksum:   "invalid checksum",
	InvalidMessage:    "invalid message",
	UnknownMessage:    "unknown message",

	ProtocolViolation:    "protocol violation",
	InvalidConfiguration: "invalid configuration",
	ChannelConflict:      "channel conflict",

	ChannelTimeout:     "channel timeout",
	ChannelDropped:      "channel dropped",
	ChannelStopped:      "channel stopped",
	ServiceStopped:      "service stopped",
	SubscriberStopped:   "subscriber stopped",
}

// String renders the registered description, or "code(N)" if unregistered.
func (c Code) String() string {
	if s, ok := Table[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error wraps a Code with an optional cause and detail. It renders as
// "description", then ": detail" and ": cause" when present, with no
// "[package]" prefix.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Code, unwrapping *Error chains.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or Unknown if err is not an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Classify maps an OS/network error into the taxonomy, per spec §7:
// cancel-like -> OperationCanceled; refused/reset/not-connected ->
// OperationFailed; address family/not-available -> ResolveFailed;
// unreachable/broken-pipe -> ConnectFailed; already-in-use/already-connected
// -> AddressInUse; stream/message errors -> BadStream; timeouts ->
// ChannelTimeout; fs errors -> FileSystem; unmatched -> Unknown.
func Classify(err error) Code {
	if err == nil {
		return Success
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return BadStream
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case opErr.Timeout():
			return ChannelTimeout
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENOTCONN):
			return OperationFailed
		case errors.Is(opErr.Err, syscall.EADDRINUSE),
			errors.Is(opErr.Err, syscall.EISCONN):
			return AddressInUse
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EPIPE):
			return ConnectFailed
		case errors.Is(opErr.Err, syscall.EAFNOSUPPORT),
			errors.Is(opErr.Err, syscall.EADDRNOTAVAIL):
			return ResolveFailed
		}
	}

	if os.IsTimeout(err) {
		return ChannelTimeout
	}
	if errors.Is(err, context.Canceled) {
		return OperationCanceled
	}
	if os.IsPermission(err) || os.IsNotExist(err) {
		return FileSystem
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "canceled") || strings.Contains(msg, "cancelled"):
		return OperationCanceled
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup"):
		return ResolveFailed
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "reset by peer"):
		return OperationFailed
	case strings.Contains(msg, "unreachable") || strings.Contains(msg, "broken pipe"):
		return ConnectFailed
	case strings.Contains(msg, "already in use") || strings.Contains(msg, "already connected"):
		return AddressInUse
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ChannelTimeout
	}
	return Unknown
}
