package wire

// Status represents a completion status code.
type Status uint8

const (
	// StatusSuccess indicates the invocation completed successfully.
	StatusSuccess Status = 0

	// StatusUnknownEntity indicates the entity id is not known to the hub.
	StatusUnknownEntity Status = 1

	// StatusRejected indicates the hub refused the request.
	StatusRejected Status = 2

	// StatusInvalidArgument indicates an argument was malformed.
	StatusInvalidArgument Status = 3

	// StatusInternal indicates a server-side failure.
	StatusInternal Status = 4

	// StatusUnavailable indicates the hub cannot serve the request right now.
	StatusUnavailable Status = 5
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownEntity:
		return "UNKNOWN_ENTITY"
	case StatusRejected:
		return "REJECTED"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusInternal:
		return "INTERNAL"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// Temporary returns true for failures that may succeed on a later attempt.
func (s Status) Temporary() bool {
	return s == StatusInternal || s == StatusUnavailable
}
