package distribution

import (
	"fmt"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// AskForSignatures solicits whatever witness signatures the recipient
// already holds for (SubjectID, SN), narrowed to Requested.
type AskForSignatures struct {
	SubjectID crypto.Digest           `json:"subject_id"`
	SN        uint64                  `json:"sn"`
	Requested []crypto.KeyIdentifier  `json:"requested"`
	Sender    crypto.KeyIdentifier    `json:"sender"`
}

// SignaturesReceived carries the witness signatures a peer already held
// (or has just produced) for (SubjectID, SN), in answer to an
// AskForSignatures, or unsolicited once a peer collects a new one.
type SignaturesReceived struct {
	SubjectID  crypto.Digest      `json:"subject_id"`
	SN         uint64             `json:"sn"`
	Signatures []crypto.Signature `json:"signatures"`
	Sender     crypto.KeyIdentifier `json:"sender"`
}

// RequestLCE asks the sender to resend from its Last Certified Event — the
// responder's local sn for the subject is behind the sn named in an
// AskForSignatures, or it has no record of the subject at all.
type RequestLCE struct {
	SubjectID crypto.Digest `json:"subject_id"`
}

// HigherEventRequest asks the sender to catch up: the responder's local sn
// for the subject is ahead of the sn named in an AskForSignatures.
type HigherEventRequest struct {
	SubjectID crypto.Digest `json:"subject_id"`
	SN        uint64        `json:"sn"`
}

func taskID(subjectID crypto.Digest) string {
	return fmt.Sprintf("WITNESS/%s", subjectID.String())
}

func registerKey(subjectID crypto.Digest, sn uint64) string {
	return fmt.Sprintf("%s/%d", subjectID.String(), sn)
}
