package ledger

import (
	"fmt"

	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
)

// pendingGenesisNamespace holds sn>0 events that arrived before their
// subject's genesis (sn=0) did. Keyed by subject_id; the engine requests
// event 0 from the sender and drops the parked event once genesis lands
// and the chain catches up to it.
const pendingGenesisNamespace = "pending_genesis"

// ExternalEvent ingests a remotely produced event together with whatever
// validation signatures it carries, handling every admission case except
// plain genesis (see Genesis) and already-validated local commits (see
// EventValidated).
func (e *Engine) ExternalEvent(ev subject.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subjectID := ev.Content.SubjectID
	s, err := e.subjects.Get(subjectID.String())
	if err == storage.ErrNotFound {
		return e.admitWithoutState(ev)
	}
	if err != nil {
		return err
	}
	return e.admitWithState(&s, ev)
}

// admitWithoutState handles "no state, sn>0": the event is parked awaiting
// event 0 (keeping the lowest-sn event received for the subject) and event
// 0 is requested. Its validation signatures are not checked here.
func (e *Engine) admitWithoutState(ev subject.Event) error {
	if ev.Content.SN == 0 {
		return fmt.Errorf("ledger: genesis events must go through Genesis")
	}
	pending := storage.NewCollection[subject.Event](e.db, pendingGenesisNamespace)
	existing, err := pending.Get(ev.Content.SubjectID.String())
	if err == nil && existing.Content.SN <= ev.Content.SN {
		// Already holding an equal-or-smaller candidate LCE; keep it.
		admittedTotal.WithLabelValues("duplicate_pending_lce").Inc()
		return nil
	}
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err := pending.Put(ev.Content.SubjectID.String(), ev); err != nil {
		return err
	}
	admittedTotal.WithLabelValues("pending_lce_without_state").Inc()
	return e.gaps.RequestGenesisEvent(ev.Content.SubjectID)
}

// admitWithState handles the three rows where the subject already has a
// header: in-order (verify quorum, apply), ahead (candidate LCE, request
// gap), and stale (reject duplicate).
func (e *Engine) admitWithState(s *subject.Subject, ev subject.Event) error {
	head := s.LedgerState.HeadSN
	switch {
	case ev.Content.SN <= head:
		admittedTotal.WithLabelValues("stale").Inc()
		return ErrStaleEvent

	case ev.Content.SN == head+1:
		if err := e.verifyValidationQuorum(s, ev); err != nil {
			admittedTotal.WithLabelValues("quorum_rejected").Inc()
			return err
		}
		return e.commitToSubject(s, ev)

	default: // ev.Content.SN > head+1: candidate LCE
		if err := e.verifyValidationQuorum(s, ev); err != nil {
			admittedTotal.WithLabelValues("quorum_rejected").Inc()
			return err
		}
		if s.LedgerState.HeadCandidateSN == nil || ev.Content.SN < *s.LedgerState.HeadCandidateSN {
			sn := ev.Content.SN
			s.LedgerState.HeadCandidateSN = &sn
			s.LedgerState.NegotiatingNext = false
			if err := e.subjects.Put(s.SubjectID.String(), *s); err != nil {
				return err
			}
		}
		if err := e.eventsCol.Put(eventKey(s.SubjectID, ev.Content.SN), ev); err != nil {
			return err
		}
		admittedTotal.WithLabelValues("candidate_lce").Inc()
		return e.gaps.RequestIntermediateEvent(s.SubjectID, head+1)
	}
}

// ExternalIntermediateEvent accepts a gap-filling event whose cryptographic
// ancestry is authenticated transitively by an already-stored LCE, rather
// than by its own validation-signature bag (intermediate events carry
// none). state_hash is re-derived via fake_apply; any mismatch is fatal
// for the event.
func (e *Engine) ExternalIntermediateEvent(ev subject.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.subjects.Get(ev.Content.SubjectID.String())
	if err != nil {
		return err
	}
	if ev.Content.SN != s.LedgerState.HeadSN+1 {
		return &subject.NotInOrder{Expected: s.LedgerState.HeadSN + 1, Got: ev.Content.SN}
	}
	if err := e.checkChaining(&s, ev); err != nil {
		return err
	}

	preview, err := subject.FakeApply(&s, ev)
	if err != nil {
		return err
	}
	_ = preview // fake_apply already validated state_hash; commitToSubject re-applies for real
	return e.commitToSubject(&s, ev)
}

func (e *Engine) checkChaining(s *subject.Subject, ev subject.Event) error {
	if s.LedgerState.HeadSN == 0 {
		return nil // chained against genesis, nothing stored to compare beyond sn
	}
	prevEvent, err := e.eventsCol.Get(eventKey(s.SubjectID, s.LedgerState.HeadSN))
	if err != nil {
		return err
	}
	prevHash, err := prevEvent.Hash()
	if err != nil {
		return err
	}
	if !prevHash.Equal(ev.Content.PreviousEventHash) {
		return fmt.Errorf("ledger: previous_event_hash does not chain to stored event %d", s.LedgerState.HeadSN)
	}
	return nil
}

// EventValidated commits an event whose signature quorum has already been
// confirmed by the validation/distribution engines (the common local-node
// path: approve → evaluate → validate → commit).
func (e *Engine) EventValidated(ev subject.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.subjects.Get(ev.Content.SubjectID.String())
	if err != nil {
		return err
	}
	if ev.Content.SN != s.LedgerState.HeadSN+1 {
		return &subject.NotInOrder{Expected: s.LedgerState.HeadSN + 1, Got: ev.Content.SN}
	}
	return e.commitToSubject(&s, ev)
}

func (e *Engine) commitToSubject(s *subject.Subject, ev subject.Event) error {
	if err := subject.Apply(s, ev); err != nil {
		admittedTotal.WithLabelValues("apply_rejected").Inc()
		return err
	}
	if err := e.eventsCol.Put(eventKey(s.SubjectID, ev.Content.SN), ev); err != nil {
		return err
	}
	if err := e.subjects.Put(s.SubjectID.String(), *s); err != nil {
		return err
	}
	pending := storage.NewCollection[subject.Event](e.db, pendingGenesisNamespace)
	_ = pending.Delete(s.SubjectID.String())

	admittedTotal.WithLabelValues("committed").Inc()
	hash, _ := ev.Hash()
	e.notifier.Emit(events.EventCommitted{SubjectID: s.SubjectID.String(), SN: ev.Content.SN, Hash: hash.String()})

	// While a pending LCE candidate is still ahead of the new head, ask for
	// the next intermediate event (Apply clears the candidate once reached).
	if s.LedgerState.HeadCandidateSN != nil && *s.LedgerState.HeadCandidateSN > s.LedgerState.HeadSN {
		return e.gaps.RequestIntermediateEvent(s.SubjectID, s.LedgerState.HeadSN+1)
	}
	return nil
}

func (e *Engine) verifyValidationQuorum(s *subject.Subject, ev subject.Event) error {
	meta := governance.Metadata{
		GovernanceID:      s.GovernanceID.String(),
		GovernanceVersion: ev.Content.GovernanceVersion,
		Namespace:         s.Namespace,
		SchemaID:          s.SchemaID,
	}
	signers, err := e.interpreter.GetSigners(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	quorum, err := e.interpreter.GetQuorum(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	eventHash, err := ev.Hash()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	count := 0
	for _, sig := range ev.ValidationSignatures {
		key := sig.Signer.String()
		if seen[key] {
			continue
		}
		if !signerEligible(signers, sig.Signer) {
			continue
		}
		if crypto.Verify(sig.Signer, eventHash, sig) != nil {
			continue
		}
		seen[key] = true
		count++
	}
	if count < quorum.Resolve(len(signers)) {
		return ErrIncompleteValidation
	}
	return nil
}

func signerEligible(signers []crypto.KeyIdentifier, candidate crypto.KeyIdentifier) bool {
	for _, s := range signers {
		if s.Equal(candidate) {
			return true
		}
	}
	return false
}
