package governance

import "errors"

// Sentinel errors for governance resolution and payload parsing. Typed so
// callers can branch on failure mode instead of string-matching against
// raw JSON access errors.
var (
	// ErrInvalidPayload is returned when a governance payload fails
	// structural parsing (missing required fields, wrong JSON shape) even
	// though it may have already passed schema validation.
	ErrInvalidPayload = errors.New("governance: invalid payload")

	// ErrUnknownGovernance is returned when no governance subject exists
	// under the requested id.
	ErrUnknownGovernance = errors.New("governance: unknown governance")

	// ErrVersionTooHigh is returned when the pinned governance_version is
	// ahead of the governance subject's own current version — the pin
	// cannot be honored without events that do not exist yet.
	ErrVersionTooHigh = errors.New("governance: pinned version is ahead of current")

	// ErrUnknownSchema is returned when a schema_id is not declared by the
	// resolved governance model.
	ErrUnknownSchema = errors.New("governance: unknown schema")

	// ErrUnknownPolicy is returned when a schema's policy id has no match
	// in the resolved governance model's policies.
	ErrUnknownPolicy = errors.New("governance: unknown policy")

	// ErrStructuralViolation is returned by ParseModel when a governance
	// payload parses but violates one of the genesis structural
	// invariants: duplicate ids, a schema without a policy or the reverse,
	// or dangling references. Whether approvers are a subset of validators
	// is not checked.
	ErrStructuralViolation = errors.New("governance: structural violation")
)
