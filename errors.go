package courier

import "errors"

var (
	// Store errors.
	ErrNoStore  = errors.New("courier: no store configured")
	ErrNoSender = errors.New("courier: no sender configured")

	// Not found errors.
	ErrMessageNotFound = errors.New("courier: message not found")
	ErrCodeNotFound    = errors.New("courier: code not found")

	// Conflict errors.
	ErrMessageExists = errors.New("courier: message already exists")

	// Validation errors.
	ErrInvalidRequest  = errors.New("courier: invalid request")
	ErrInvalidPriority = errors.New("courier: invalid priority")
	ErrInvalidChannel  = errors.New("courier: invalid channel")
	ErrInvalidKind     = errors.New("courier: invalid message kind")
	ErrInvalidStatus   = errors.New("courier: invalid status")

	// Lifecycle errors.
	ErrEngineStopped = errors.New("courier: engine not running")
)
