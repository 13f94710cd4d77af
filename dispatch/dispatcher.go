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

// Transport is the narrow network port dispatch needs: hand an already
// tagged Envelope to target. Implemented by the network layer; dispatch
// has no opinion on how bytes actually reach a peer.
type Transport interface {
	Send(target crypto.KeyIdentifier, envelope Envelope) error
}

// DirectResponder is the narrow tasks.Manager port used to answer an
// inbound request without entering the retry catalog.
type DirectResponder interface {
	DirectResponse(target crypto.KeyIdentifier, message any) error
}

// Ledger is the narrow ledger port dispatch needs to admit wire events.
type Ledger interface {
	ExternalEvent(ev subject.Event) error
	ExternalIntermediateEvent(ev subject.Event) error
}

// Sender adapts a Transport into tasks.Sender: every outbound message an
// engine hands to the task manager is tagged, marshaled, and handed to
// the transport unchanged.
type Sender struct {
	transport Transport
}

func NewSender(transport Transport) *Sender {
	return &Sender{transport: transport}
}

// Send implements tasks.Sender.
func (s *Sender) Send(target crypto.KeyIdentifier, message any) error {
	env, err := Encode(message)
	if err != nil {
		return err
	}
	return s.transport.Send(target, env)
}

// NotaryResponseHandler receives an inbound NotaryResponse: the reply to a
// NotaryEvent this node previously sent out while assembling a proposed
// event's validation-signature bag. Dispatch has no state of its own for
// in-flight proposals, so it hands the response off to whichever engine
// constructed the original event.
type NotaryResponseHandler func(sender crypto.KeyIdentifier, resp validation.NotaryResponse)

// GapRequestHandler receives an inbound GapRequest asking this node to
// resend an event it has already committed.
type GapRequestHandler func(sender crypto.KeyIdentifier, req GapRequest)

// Dispatcher routes an inbound Envelope to the engine that owns its tag.
type Dispatcher struct {
	self crypto.KeyIdentifier
	key  *crypto.PrivateKey

	approval     *approval.Engine
	validation   *validation.Engine
	distribution *distribution.Engine
	ledger       Ledger
	responses    DirectResponder

	OnNotaryResponse NotaryResponseHandler
	OnGapRequest     GapRequestHandler
}

func NewDispatcher(key *crypto.PrivateKey, approvalEngine *approval.Engine, validationEngine *validation.Engine, distributionEngine *distribution.Engine, ledger Ledger, responses DirectResponder) *Dispatcher {
	d := &Dispatcher{
		key:          key,
		approval:     approvalEngine,
		validation:   validationEngine,
		distribution: distributionEngine,
		ledger:       ledger,
		responses:    responses,
	}
	if key != nil {
		d.self = key.KeyIdentifier()
	}
	return d
}

// HandleEnvelope decodes env's payload by its tag and routes it to the
// engine method that owns that message kind. sender is who it arrived
// from, used both to address replies and, for approvals, as the signer
// identity this node verifies against.
func (d *Dispatcher) HandleEnvelope(sender crypto.KeyIdentifier, env Envelope) error {
	switch env.Type {
	case TagApprovalSolicitation:
		return d.handleApprovalSolicitation(sender, env.Payload)
	case TagApproval:
		var msg approval.Approval
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if !msg.Signer.Equal(sender) {
			return fmt.Errorf("dispatch: approval signer does not match sender")
		}
		return d.approval.Approve(msg)
	case TagNotaryEvent:
		return d.handleNotaryEvent(sender, env.Payload)
	case TagNotaryResponse:
		var msg validation.NotaryResponse
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if d.OnNotaryResponse != nil {
			d.OnNotaryResponse(sender, msg)
		}
		return nil
	case TagAskForSignatures:
		return d.handleAskForSignatures(sender, env.Payload)
	case TagSignaturesReceived:
		var msg distribution.SignaturesReceived
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		return d.distribution.SignaturesReceived(msg)
	case TagRequestLCE, TagHigherEventRequest, TagRequestIntermediateEvent, TagRequestGenesisEvent:
		return d.handleGapMessage(sender, env)
	case TagExternalEvent:
		var msg ExternalEventMsg
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		return d.ledger.ExternalEvent(msg.Event)
	case TagExternalIntermediateEvent:
		var msg ExternalIntermediateEventMsg
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		return d.ledger.ExternalIntermediateEvent(msg.Event)
	default:
		return fmt.Errorf("dispatch: unknown envelope tag %d", env.Type)
	}
}

// handleApprovalSolicitation auto-decides when this node's automation
// mode produces a verdict; Normal-mode solicitations are left for an
// operator-driven caller to answer via the approval engine directly, so
// they are accepted and silently dropped here.
func (d *Dispatcher) handleApprovalSolicitation(sender crypto.KeyIdentifier, payload []byte) error {
	var msg approval.ApprovalSolicitation
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	decision, ok := d.approval.AutomatedDecision()
	if !ok || d.key == nil {
		return nil
	}
	sig, err := crypto.Sign(d.key, msg.RequestHash)
	if err != nil {
		return err
	}
	reply := approval.Approval{
		Signer:      d.self,
		RequestHash: msg.RequestHash,
		Decision:    decision,
		ExpectedSN:  msg.Request.ExpectedSN,
		Signature:   sig,
	}
	return d.responses.DirectResponse(sender, reply)
}

func (d *Dispatcher) handleNotaryEvent(sender crypto.KeyIdentifier, payload []byte) error {
	var msg validation.NotaryEvent
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	resp, err := d.validation.HandleNotaryEvent(msg)
	if sendErr := d.responses.DirectResponse(sender, resp); sendErr != nil && err == nil {
		return sendErr
	}
	return err
}

func (d *Dispatcher) handleAskForSignatures(sender crypto.KeyIdentifier, payload []byte) error {
	var msg distribution.AskForSignatures
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	resp, err := d.distribution.ProvideSignatures(msg)
	if err != nil {
		return err
	}
	return d.responses.DirectResponse(sender, resp)
}

func (d *Dispatcher) handleGapMessage(sender crypto.KeyIdentifier, env Envelope) error {
	switch env.Type {
	case TagRequestLCE:
		var msg distribution.RequestLCE
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if d.OnGapRequest != nil {
			d.OnGapRequest(sender, GapRequest{SubjectID: msg.SubjectID, Genesis: true})
		}
		return nil
	case TagHigherEventRequest:
		var msg distribution.HigherEventRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if d.OnGapRequest != nil {
			d.OnGapRequest(sender, GapRequest{SubjectID: msg.SubjectID, SN: msg.SN})
		}
		return nil
	default:
		var msg GapRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		if d.OnGapRequest != nil {
			d.OnGapRequest(sender, msg)
		}
		return nil
	}
}
