package subject

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// RequestKind discriminates the two EventRequest variants: a tagged
// union with one handler per kind, never a generic dispatcher —
// EventRequest and every switch over Kind follow that.
type RequestKind string

const (
	RequestCreate RequestKind = "Create"
	RequestState  RequestKind = "State"
)

// CreateRequest asks for a brand-new subject under governanceID/schemaID.
// GovernanceID is the empty digest when the new subject is itself a
// governance. Payload is always a whole JSON document (never a patch).
type CreateRequest struct {
	GovernanceID crypto.Digest   `json:"governance_id"`
	SchemaID     string          `json:"schema_id"`
	Namespace    string          `json:"namespace"`
	Payload      json.RawMessage `json:"payload"`
}

// StateRequest asks for an existing subject's properties to evolve.
// Payload is either a whole JSON document or a JSON-Patch (RFC 6902)
// document; PatchPayload distinguishes the two so Apply never has to
// sniff the bytes.
type StateRequest struct {
	SubjectID    crypto.Digest   `json:"subject_id"`
	Payload      json.RawMessage `json:"payload"`
	PatchPayload bool            `json:"patch_payload"`
}

// EventRequest is the tagged union of what an event proposes.
type EventRequest struct {
	Kind   RequestKind   `json:"kind"`
	Create *CreateRequest `json:"create,omitempty"`
	State  *StateRequest  `json:"state,omitempty"`
}

func NewCreateRequest(r CreateRequest) EventRequest {
	return EventRequest{Kind: RequestCreate, Create: &r}
}

func NewStateRequest(r StateRequest) EventRequest {
	return EventRequest{Kind: RequestState, State: &r}
}

// EvaluationResult is the (pluggable, unspecified-beyond-this-tag) outcome
// of running a State request's evaluation step. Only its Accepted bit is
// load-bearing for the core; richer evaluation semantics are an external
// collaborator.
type EvaluationResult struct {
	Accepted bool            `json:"accepted"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// EventContent is everything a proposal signature covers.
type EventContent struct {
	SubjectID         crypto.Digest     `json:"subject_id"`
	SN                uint64            `json:"sn"`
	PreviousEventHash crypto.Digest     `json:"previous_event_hash"`
	GovernanceVersion uint64            `json:"governance_version"`
	EventRequest      EventRequest      `json:"event_request"`
	// Evaluation is nil only for a genesis event (sn=0); every other
	// event carries the outcome of its evaluation step.
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
	StateHash  crypto.Digest     `json:"state_hash"`
	Approved   bool              `json:"approved"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Hash returns the content-addressed digest of this event content, the
// same marshal-then-sha256 idiom as crypto.DigestJSON everywhere else in
// this module.
func (c EventContent) Hash() (crypto.Digest, error) {
	return crypto.DigestJSON(c)
}

// Event is a fully signed, hash-chained ledger record.
type Event struct {
	Content             EventContent       `json:"content"`
	ProposalSignature   crypto.Signature   `json:"proposal_signature"`
	ValidationSignatures []crypto.Signature `json:"validation_signatures,omitempty"`
}

// Hash is a convenience alias for Content.Hash.
func (e Event) Hash() (crypto.Digest, error) {
	return e.Content.Hash()
}

// VerifyProposal checks the proposal signature was produced by signer over
// this event's content hash.
func (e Event) VerifyProposal(signer crypto.KeyIdentifier) error {
	contentHash, err := e.Content.Hash()
	if err != nil {
		return fmt.Errorf("subject: hashing event content: %w", err)
	}
	return crypto.Verify(signer, contentHash, e.ProposalSignature)
}
