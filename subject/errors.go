package subject

import "errors"

var (
	// ErrSubjectHasNoData is returned when applying an event to a subject
	// that is only known by header (no properties/ledger state yet) —
	// e.g. a remote LCE recorded before its genesis arrived.
	ErrSubjectHasNoData = errors.New("subject: has no data")

	// ErrStateHashMismatch is returned when the state_hash computed after
	// applying an event does not match the hash carried on the event.
	ErrStateHashMismatch = errors.New("subject: state hash mismatch")

	// ErrDuplicateEvent is returned when an event's sn is at or behind
	// head_sn — re-applying an already-applied event is a no-op error,
	// never a silent second mutation.
	ErrDuplicateEvent = errors.New("subject: duplicate event")

	// ErrInvalidGenesis is returned when a Create request fails the
	// genesis contract (wrong sn, wrong request kind, bad payload).
	ErrInvalidGenesis = errors.New("subject: invalid genesis")

	// ErrAlreadyCreated is returned by Apply and FakeApply when the event
	// carries a Create request for a subject that already exists — a typed
	// error for the create-on-an-already-created-subject case instead of a
	// crash.
	ErrAlreadyCreated = errors.New("subject: already created")
)

// NotInOrder is returned when event.sn does not immediately follow head_sn.
type NotInOrder struct {
	Expected uint64
	Got      uint64
}

func (e *NotInOrder) Error() string {
	return "subject: event out of order"
}
