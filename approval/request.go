package approval

import (
	"fmt"
	"time"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/subject"
)

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	Accept Decision = "Accept"
	Reject Decision = "Reject"
)

// AutomationMode governs how this node's own approvals are produced for
// requests it is itself a signer for.
type AutomationMode string

const (
	Normal       AutomationMode = "Normal"
	AlwaysAccept AutomationMode = "AlwaysAccept"
	AlwaysReject AutomationMode = "AlwaysReject"
)

// Request is the event a subject owner proposes and asks its governance's
// Approve-stage signers to sign off on.
type Request struct {
	SubjectID         crypto.Digest
	ExpectedSN        uint64
	EventRequest      subject.EventRequest
	GovernanceID      string
	GovernanceVersion uint64
	Namespace         string
	SchemaID          string
}

// Hash is the content-addressed identifier a Request is keyed and signed
// by, the same marshal-then-sha256 idiom used throughout this module.
func (r Request) Hash() (crypto.Digest, error) {
	return crypto.DigestJSON(r)
}

// Approval is one signer's verdict over a specific request_hash.
type Approval struct {
	Signer      crypto.KeyIdentifier
	RequestHash crypto.Digest
	Decision    Decision
	ExpectedSN  uint64
	Timestamp   time.Time
	Signature   crypto.Signature
}

func taskID(subjectID crypto.Digest, expectedSN uint64) string {
	return fmt.Sprintf("APPROVAL/%s/%d", subjectID.String(), expectedSN)
}
