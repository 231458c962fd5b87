package orchestrator

import (
	"errors"

	"github.com/maastricht-university/affect-pipeline/clients"
)

var (
	// ErrPermissionDenied reports access to the device or service refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceUnavailable reports a missing device or unreachable service.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrModelLoadFailed reports a detector that failed to initialize.
	ErrModelLoadFailed = errors.New("model load failed")
	// ErrNotActive reports input submitted to a channel that is not running.
	ErrNotActive = errors.New("channel not active")
	// ErrUnknownChannel reports a channel name the pipeline does not have.
	ErrUnknownChannel = errors.New("unknown channel")
)

// ErrorKind classifies acquisition failures.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindModelLoadFailed   ErrorKind = "model_load_failed"
	KindUnknown           ErrorKind = "unknown"
)

// KindOf classifies err. Client availability errors are mapped onto the
// acquisition taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, clients.ErrUnauthorized):
		return KindPermissionDenied
	case errors.Is(err, ErrModelLoadFailed), errors.Is(err, clients.ErrNotReady):
		return KindModelLoadFailed
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, clients.ErrUnavailable):
		return KindDeviceUnavailable
	default:
		return KindUnknown
	}
}
