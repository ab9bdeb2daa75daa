package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrHandshake        = fmt.Errorf("handshake failed")
	ErrDecode           = fmt.Errorf("malformed event")
	ErrUnknownKind      = fmt.Errorf("unknown event kind")
	ErrFrameTooLarge    = fmt.Errorf("frame exceeds maximum size")
	ErrDatagramTooLarge = fmt.Errorf("event exceeds maximum datagram size")

	ErrDelivery        = fmt.Errorf("delivery failed")
	ErrDeliveryTimeout = fmt.Errorf("delivery timed out")
	ErrHandleClosed    = fmt.Errorf("handle is closed")
	ErrDuplicateHandle = fmt.Errorf("handle already registered")

	ErrBind = fmt.Errorf("cannot bind socket")
)

// HandshakeError reports a reliable connection whose first frame was not a valid hello.
// It is fatal to that connection only.
type HandshakeError struct {
	RemoteAddr string
	Cause      error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: %v", e.RemoteAddr, e.Cause)
}

func (e *HandshakeError) Unwrap() []error {
	return []error{ErrHandshake, e.Cause}
}
