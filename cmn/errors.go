// Package cmn provides the low-level types, errors and assertion helpers
// shared by every ukai package: the metadata store, the block I/O engine,
// the RPC transport and the locality oracle.
package cmn

import (
	"fmt"
)

// Error is a ukai-specific error carrying a stable Kind so that callers can
// cmn.IsKind(err, cmn.ErrInvalidGeometry) instead of string-matching.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Error kinds, see spec §7.
const (
	ErrInvalidGeometry = "InvalidGeometry"
	ErrNotFound        = "NotFound"
	ErrPersistence     = "PersistenceFailure"
	ErrTransport       = "TransportError"
	ErrRemote          = "RemoteError"
	ErrReplicaUnavail  = "ReplicaUnavailable"
	ErrDiskBroken      = "DiskBroken"
)

func newErr(kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

func NewInvalidGeometry(format string, a ...interface{}) error {
	return newErr(ErrInvalidGeometry, format, a...)
}

func NewNotFound(format string, a ...interface{}) error {
	return newErr(ErrNotFound, format, a...)
}

func NewPersistenceFailure(format string, a ...interface{}) error {
	return newErr(ErrPersistence, format, a...)
}

func NewTransportError(format string, a ...interface{}) error {
	return newErr(ErrTransport, format, a...)
}

func NewRemoteError(format string, a ...interface{}) error {
	return newErr(ErrRemote, format, a...)
}

func NewReplicaUnavailable(format string, a ...interface{}) error {
	return newErr(ErrReplicaUnavail, format, a...)
}

func NewDiskBroken(format string, a ...interface{}) error {
	return newErr(ErrDiskBroken, format, a...)
}

// IsKind reports whether err (or anything it wraps) is a *cmn.Error of the
// given kind.
func IsKind(err error, kind string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
