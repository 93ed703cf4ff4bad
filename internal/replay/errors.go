package replay

import "errors"

// Client-facing error kinds. The websocket layer turns these into ERROR
// frames and the HTTP sidecar maps them to 400/404 responses.
var (
	// Error texts are part of the wire contract: they surface verbatim in
	// ERROR frames, so they keep the casing clients already match on.

	// ErrUnknownSession means the session key is not in the catalog.
	ErrUnknownSession = errors.New("Session not found")

	// ErrNoActiveSession means the operation needs an active replay session.
	ErrNoActiveSession = errors.New("No active session")

	// ErrInvalidTime means a requested time falls outside the session bounds.
	ErrInvalidTime = errors.New("Target time outside session bounds")

	// ErrInvalidSpeed means the requested multiplier is not in the speed set.
	ErrInvalidSpeed = errors.New("Invalid speed multiplier")
)
