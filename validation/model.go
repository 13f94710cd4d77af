package validation

import (
	"github.com/opencanarias-go/subjectchain/crypto"
)

// Proof is the notarization claim one node asks another to sign: "this is
// the event at (subject_id, sn), chained from prev_event_hash, under this
// governance_version." It is the payload a notary_signature covers.
type Proof struct {
	SubjectID                crypto.Digest `json:"subject_id"`
	SN                        uint64        `json:"sn"`
	EventHash                 crypto.Digest `json:"event_hash"`
	PrevEventHash             crypto.Digest `json:"prev_event_hash"`
	SchemaID                  string        `json:"schema_id"`
	Namespace                 string        `json:"namespace"`
	GovernanceID              string        `json:"governance_id"`
	GenesisGovernanceVersion  uint64        `json:"genesis_governance_version"`
	GovernanceVersion         uint64        `json:"governance_version"`
	Name                      string        `json:"name"`
}

// similar reports whether p and other agree on everything except
// governance_version — the only field two proofs for the same sn are
// ever allowed to disagree on.
func (p Proof) similar(other Proof) bool {
	return p.SubjectID.Equal(other.SubjectID) &&
		p.SN == other.SN &&
		p.EventHash.Equal(other.EventHash) &&
		p.PrevEventHash.Equal(other.PrevEventHash) &&
		p.SchemaID == other.SchemaID &&
		p.Namespace == other.Namespace &&
		p.GovernanceID == other.GovernanceID &&
		p.GenesisGovernanceVersion == other.GenesisGovernanceVersion &&
		p.Name == other.Name
}

// chainsFrom reports whether p correctly extends previous by one sn: same
// event identity fields, previous.EventHash feeding p.PrevEventHash, and
// sn advancing by exactly one.
func (p Proof) chainsFrom(previous Proof) bool {
	if previous.SN+1 != p.SN {
		return false
	}
	if !previous.EventHash.Equal(p.PrevEventHash) {
		return false
	}
	return p.SubjectID.Equal(previous.SubjectID) &&
		p.SchemaID == previous.SchemaID &&
		p.Namespace == previous.Namespace &&
		p.GovernanceID == previous.GovernanceID &&
		p.GenesisGovernanceVersion == previous.GenesisGovernanceVersion &&
		p.Name == previous.Name
}

// NotaryEvent is an incoming request to sign a Proof. Neither PreviousProof
// nor PrevEventValidationSignatures is needed for sn 0 or for the sn this
// node last recorded a proof at. PreviousProof alone is needed when
// Proof.SN is exactly one past this node's last recorded proof; both are
// needed (the signatures meeting the previous event's Validate quorum) when
// this node has no proof for the subject or the gap is larger than one.
type NotaryEvent struct {
	Proof                         Proof              `json:"proof"`
	SubjectSignature              crypto.Signature   `json:"subject_signature"`
	PreviousProof                 *Proof             `json:"previous_proof,omitempty"`
	PrevEventValidationSignatures []crypto.Signature `json:"prev_event_validation_signatures,omitempty"`
	Sender                        crypto.KeyIdentifier `json:"sender"`
}

// NotaryResponse is this node's answer to a NotaryEvent: either a fresh
// notary_signature over the accepted proof, or a resync instruction when
// the sender's governance_version is out of step.
type NotaryResponse struct {
	NotarySignature   crypto.Signature `json:"notary_signature,omitempty"`
	GovernanceVersion uint64           `json:"governance_version"`
	ResendWithVersion *uint64          `json:"resend_with_version,omitempty"`
}
