package validation

import "errors"

var (
	// ErrGovernanceVersionTooHigh is returned when a proof names a
	// governance_version this node has not caught up to yet.
	ErrGovernanceVersionTooHigh = errors.New("validation: proof governance_version is ahead of the known version")

	// ErrGovernanceVersionTooLow is returned when a proof names a
	// governance_version behind this node's — the sender should resend
	// against the current version.
	ErrGovernanceVersionTooLow = errors.New("validation: proof governance_version is behind the known version")

	// ErrSubjectSignatureInvalid is returned when proof's subject_signature
	// does not verify against the subject's own public key.
	ErrSubjectSignatureInvalid = errors.New("validation: subject signature does not verify")

	// ErrStaleProof is returned when an incoming proof's sn is behind the
	// last recorded proof for the subject.
	ErrStaleProof = errors.New("validation: proof sn is behind the last recorded proof")

	// ErrDifferentProofForEvent is returned when a proof repeats an sn this
	// node already has a last_proof for, but the two disagree on anything
	// besides governance_version — the at-most-one-signature-per-event
	// invariant's enforcement point.
	ErrDifferentProofForEvent = errors.New("validation: different proof for the same event")

	// ErrMissingPreviousProof is returned when proof.sn is exactly one past
	// the last recorded proof but no previous_proof accompanied it.
	ErrMissingPreviousProof = errors.New("validation: previous_proof required to advance one sn")

	// ErrPreviousProofQuorumIncomplete is returned when a gap-crossing
	// proof's previous_proof cannot be authenticated by its own
	// prev_event_validation_signatures under the Validate quorum.
	ErrPreviousProofQuorumIncomplete = errors.New("validation: previous_proof validation signatures do not satisfy quorum")

	// ErrBrokenChain is returned when proof and previous_proof disagree on
	// any of the identity fields (subject, schema, namespace, governance,
	// genesis version, name) that must match across a chained sn step.
	ErrBrokenChain = errors.New("validation: proof does not chain to previous_proof")

	// ErrGenesisGovernanceVersionMismatch is returned when an sn=0 proof's
	// governance_version does not equal its own genesis_governance_version.
	ErrGenesisGovernanceVersionMismatch = errors.New("validation: genesis proof governance_version mismatch")
)
