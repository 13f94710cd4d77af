package ledger

import "errors"

var (
	// ErrUnknownSubject is returned when an operation names a subject_id
	// this node has no header for at all.
	ErrUnknownSubject = errors.New("ledger: unknown subject")

	// ErrSubjectAlreadyExists is returned by Genesis when the derived
	// subject_id already has a header on disk — a typed error for the
	// create-on-an-already-created-subject case instead of a crash.
	ErrSubjectAlreadyExists = errors.New("ledger: subject already exists")

	// ErrIncompleteValidation is returned when an in-order or ahead event
	// for a subject with state on file carries validation signatures that
	// do not satisfy the Validate quorum.
	ErrIncompleteValidation = errors.New("ledger: incomplete validation signatures for out-of-order event")

	// ErrStaleEvent is returned when an incoming event's sn is at or
	// behind the subject's current head_sn.
	ErrStaleEvent = errors.New("ledger: stale event")
)
