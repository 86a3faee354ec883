package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a TransportError
type ErrorKind string

const (
	PermissionDenied  ErrorKind = "permission_denied"
	ProtocolViolation ErrorKind = "protocol_violation"
	NotConnected      ErrorKind = "not_connected"
	PeerMismatch      ErrorKind = "peer_mismatch"
	Unsupported       ErrorKind = "unsupported"
)

// TransportError is the single error type reported by the BLE transport.
// Platform refusals, protocol violations and lifecycle misuse all surface as one of its kinds.
type TransportError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying platform error, if any
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare TransportError values by Kind
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrPermissionDenied  = &TransportError{Kind: PermissionDenied}
	ErrProtocolViolation = &TransportError{Kind: ProtocolViolation}
	ErrNotConnected      = &TransportError{Kind: NotConnected}
	ErrPeerMismatch      = &TransportError{Kind: PeerMismatch}
	ErrUnsupported       = &TransportError{Kind: Unsupported}
)

// Adapter state errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrTimeout      = errors.New("timeout")
)

// NewProtocolViolation builds a ProtocolViolation with a formatted detail
func NewProtocolViolation(format string, args ...interface{}) error {
	return &TransportError{Kind: ProtocolViolation, Detail: fmt.Sprintf(format, args...)}
}

// NewUnsupported builds an Unsupported error for the named feature
func NewUnsupported(feature string) error {
	return &TransportError{Kind: Unsupported, Detail: feature}
}

// NewNotConnected builds a NotConnected error describing the attempted operation
func NewNotConnected(op string) error {
	return &TransportError{Kind: NotConnected, Detail: op}
}

// IsKind reports whether err is a TransportError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Kind == kind
	}
	return false
}

// NormalizeError maps known platform error strings to TransportError kinds.
// The original error is kept as the cause so callers still see the platform message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var terr *TransportError
	if errors.As(err, &terr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "not permitted"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "operation not allowed"):
		return &TransportError{Kind: PermissionDenied, Err: err}
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is Bluetooth turned on"):
		return &TransportError{Kind: PermissionDenied, Detail: "adapter unavailable", Err: fmt.Errorf("%w: %w", ErrBluetoothOff, err)}
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection is not initialized"):
		return &TransportError{Kind: NotConnected, Err: err}
	case containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "unsupported"):
		return &TransportError{Kind: Unsupported, Err: err}
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
