// Package dispatch wraps every message this module's engines send or
// receive in a single tagged-byte envelope, the wire shape the network
// transport actually carries, and routes an inbound envelope to the
// engine that owns its tag.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/opencanarias-go/subjectchain/approval"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/distribution"
	"github.com/opencanarias-go/subjectchain/subject"
	"github.com/opencanarias-go/subjectchain/validation"
)

// Tag identifies an envelope's payload type on the wire.
type Tag byte

const (
	TagApprovalSolicitation Tag = iota + 1
	TagApproval
	TagNotaryEvent
	TagNotaryResponse
	TagAskForSignatures
	TagSignaturesReceived
	TagRequestLCE
	TagHigherEventRequest
	TagRequestIntermediateEvent
	TagRequestGenesisEvent
	TagExternalEvent
	TagExternalIntermediateEvent
)

// Envelope is the generic structure carried between nodes: a byte tag
// plus the JSON-encoded payload it names. Mirrors the byte-tagged,
// opaque-payload wire message the network layer's p2p predecessor used.
type Envelope struct {
	Type    Tag    `json:"type"`
	Payload []byte `json:"payload"`
}

// GapRequest asks the sender for event sn of subject_id, or for its
// genesis event when Genesis is set (sn is then ignored).
type GapRequest struct {
	SubjectID crypto.Digest `json:"subject_id"`
	SN        uint64        `json:"sn"`
	Genesis   bool          `json:"genesis"`
}

// ExternalEventMsg carries a freshly produced or gap-filled event destined
// for ExternalEvent admission (own validation-signature bag attached).
type ExternalEventMsg struct {
	Event subject.Event `json:"event"`
}

// ExternalIntermediateEventMsg carries a gap-fill reply destined for
// ExternalIntermediateEvent admission (authenticated by chaining, not by
// its own signature bag).
type ExternalIntermediateEventMsg struct {
	Event subject.Event `json:"event"`
}

// Encode wraps message in an Envelope tagged by its concrete type.
func Encode(message any) (Envelope, error) {
	tag, err := tagFor(message)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("dispatch: encoding %T: %w", message, err)
	}
	return Envelope{Type: tag, Payload: payload}, nil
}

func tagFor(message any) (Tag, error) {
	switch m := message.(type) {
	case approval.ApprovalSolicitation:
		return TagApprovalSolicitation, nil
	case approval.Approval:
		return TagApproval, nil
	case validation.NotaryEvent:
		return TagNotaryEvent, nil
	case validation.NotaryResponse:
		return TagNotaryResponse, nil
	case distribution.AskForSignatures:
		return TagAskForSignatures, nil
	case distribution.SignaturesReceived:
		return TagSignaturesReceived, nil
	case distribution.RequestLCE:
		return TagRequestLCE, nil
	case distribution.HigherEventRequest:
		return TagHigherEventRequest, nil
	case GapRequest:
		if m.Genesis {
			return TagRequestGenesisEvent, nil
		}
		return TagRequestIntermediateEvent, nil
	case ExternalEventMsg:
		return TagExternalEvent, nil
	case ExternalIntermediateEventMsg:
		return TagExternalIntermediateEvent, nil
	default:
		return 0, fmt.Errorf("dispatch: unsupported message type %T", message)
	}
}
