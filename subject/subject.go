// Package subject implements the content-addressed, event-sourced state
// machine at the heart of this ledger: a Subject's properties only ever
// change through ordered application of signed Events, each hash-chained
// to the one before it.
//
// Each subject is its own independently evolving chain, content-addressed
// by marshal-then-hash, and persisted under its own namespaced storage key.
package subject

import (
	"encoding/json"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// LedgerState tracks a subject's chain-application progress.
//
// Invariants:
//   - HeadCandidateSN, if set, is strictly greater than HeadSN.
//   - NegotiatingNext implies HeadCandidateSN is unset.
type LedgerState struct {
	HeadSN          uint64  `json:"head_sn"`
	HeadCandidateSN *uint64 `json:"head_candidate_sn,omitempty"`
	NegotiatingNext bool    `json:"negotiating_next"`
}

// Valid reports whether the ledger state satisfies its invariants.
func (s LedgerState) Valid() bool {
	if s.HeadCandidateSN != nil && *s.HeadCandidateSN <= s.HeadSN {
		return false
	}
	if s.NegotiatingNext && s.HeadCandidateSN != nil {
		return false
	}
	return true
}

// Subject is one independently evolving state machine, identified by a
// content-addressed digest derived from its genesis event.
type Subject struct {
	SubjectID    crypto.Digest        `json:"subject_id"`
	GovernanceID crypto.Digest        `json:"governance_id"`
	SchemaID     string               `json:"schema_id"`
	Namespace    string               `json:"namespace"`
	Owner        crypto.KeyIdentifier `json:"owner"`
	PublicKey    crypto.KeyIdentifier `json:"public_key"`

	// Keys is populated only on nodes that own this subject (i.e. can
	// produce new events for it on this subject's own behalf).
	Keys *crypto.PrivateKey `json:"-"`

	Properties  json.RawMessage `json:"properties"`
	SN          uint64          `json:"sn"`
	LedgerState LedgerState     `json:"ledger_state"`

	// Approved is the Approved bit of the most recently applied event.
	// It is part of the canonical data state_hash commits to, since a
	// State event with approved=false leaves properties unchanged but
	// still must produce a distinguishable state_hash.
	Approved bool `json:"approved"`
}

// IsGovernance reports whether this subject is itself a governance — a
// subject with no governing subject of its own.
func (s *Subject) IsGovernance() bool {
	return s.GovernanceID.IsEmpty()
}

// Owned reports whether this node holds the signing key for this subject.
func (s *Subject) Owned() bool {
	return s.Keys != nil
}
