// Package distribution replicates a committed event to its governance's
// witness set and collects each witness's signature acknowledging receipt,
// re-targeting the outstanding set as signatures arrive or the governance
// itself changes.
//
// Mirrors the approval and validation engines' shape: a narrow port onto
// the ledger and governance resolution, one mutex-serialized entrypoint,
// and the message-task manager driving retries.
package distribution

import (
	"sync"

	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
	"github.com/opencanarias-go/subjectchain/tasks"
)

// EventSource is the narrow ledger port this engine needs.
type EventSource interface {
	Subject(subjectID crypto.Digest) (subject.Subject, error)
	Event(subjectID crypto.Digest, sn uint64) (subject.Event, error)
	SubjectsByGovernance(governanceID string) ([]subject.Subject, error)
}

// Resolver is the narrow governance port this engine needs: the current
// witness set for a subject's schema/namespace.
type Resolver interface {
	GetSigners(meta governance.Metadata, stage governance.Stage) ([]crypto.KeyIdentifier, error)
}

// TaskSubmitter is the narrow message-task-manager port this engine needs
// to solicit and retarget witness signatures.
type TaskSubmitter interface {
	Submit(task tasks.Task)
	Cancel(taskID string)
}

// Engine holds, per (subject_id, sn), the witness signatures collected so
// far, and drives solicitation until every current witness has signed or
// the governance moves on.
type Engine struct {
	mu sync.Mutex

	events   EventSource
	resolver Resolver
	taskMgr  TaskSubmitter
	key      *crypto.PrivateKey
	self     crypto.KeyIdentifier
	notifier events.Emitter

	registers *storage.Collection[map[string]crypto.Signature]
}

type Option func(*Engine)

func WithNotifier(n events.Emitter) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(db storage.Database, source EventSource, resolver Resolver, taskMgr TaskSubmitter, key *crypto.PrivateKey, opts ...Option) *Engine {
	e := &Engine{
		events:    source,
		resolver:  resolver,
		taskMgr:   taskMgr,
		key:       key,
		notifier:  events.NoopEmitter{},
		registers: storage.NewCollection[map[string]crypto.Signature](db, "witness_signatures"),
	}
	if key != nil {
		e.self = key.KeyIdentifier()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartDistribution begins replicating (subjectID, sn) to its current
// witness set: the register is reset, this node's own witness signature
// (if it is itself an eligible witness) is recorded, and an
// AskForSignatures task is submitted targeting every current witness.
func (e *Engine) StartDistribution(subjectID crypto.Digest, sn uint64, config tasks.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subj, err := e.events.Subject(subjectID)
	if err != nil {
		return err
	}
	ev, err := e.events.Event(subjectID, sn)
	if err != nil {
		return err
	}
	witnesses, err := e.witnessSet(subj, ev)
	if err != nil {
		return err
	}

	known := make(map[string]crypto.Signature)
	if e.key != nil && signerEligible(witnesses, e.self) {
		sig, err := crypto.Sign(e.key, ev.Content.StateHash)
		if err != nil {
			return err
		}
		known[e.self.String()] = sig
	}
	if err := e.registers.Put(registerKey(subjectID, sn), known); err != nil {
		return err
	}

	e.notifier.Emit(events.DistributionStarted{SubjectID: subjectID.String(), SN: sn, Witnesses: len(witnesses)})
	if len(known) >= len(witnesses) {
		e.notifier.Emit(events.DistributionComplete{SubjectID: subjectID.String(), SN: sn})
		return nil
	}

	e.taskMgr.Submit(tasks.Task{
		ID:      taskID(subjectID),
		Message: AskForSignatures{SubjectID: subjectID, SN: sn, Requested: witnesses, Sender: e.self},
		Targets: witnesses,
		Config:  config,
	})
	return nil
}

// ProvideSignatures answers an inbound AskForSignatures: relays whatever
// requested signatures this node already holds, producing and recording
// its own first if it is itself an eligible witness and has not signed
// yet. If this node's local sn for the subject disagrees with ask.SN, it
// instead asks the sender to resync.
func (e *Engine) ProvideSignatures(ask AskForSignatures) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subj, err := e.events.Subject(ask.SubjectID)
	if err == storage.ErrNotFound {
		return RequestLCE{SubjectID: ask.SubjectID}, nil
	}
	if err != nil {
		return nil, err
	}
	switch {
	case subj.LedgerState.HeadSN < ask.SN:
		return RequestLCE{SubjectID: ask.SubjectID}, nil
	case subj.LedgerState.HeadSN > ask.SN:
		return HigherEventRequest{SubjectID: ask.SubjectID, SN: subj.LedgerState.HeadSN}, nil
	}

	known, err := e.register(ask.SubjectID, ask.SN)
	if err != nil {
		return nil, err
	}

	ev, err := e.events.Event(ask.SubjectID, ask.SN)
	if err == nil && e.key != nil {
		witnesses, werr := e.witnessSet(subj, ev)
		if werr == nil && signerEligible(witnesses, e.self) {
			if _, signed := known[e.self.String()]; !signed {
				sig, serr := crypto.Sign(e.key, ev.Content.StateHash)
				if serr == nil {
					known[e.self.String()] = sig
					if err := e.registers.Put(registerKey(ask.SubjectID, ask.SN), known); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	var out []crypto.Signature
	for _, kid := range ask.Requested {
		if sig, ok := known[kid.String()]; ok {
			out = append(out, sig)
		}
	}
	return SignaturesReceived{SubjectID: ask.SubjectID, SN: ask.SN, Signatures: out, Sender: e.self}, nil
}

// SignaturesReceived verifies and records every signature in msg that
// comes from a signer currently eligible to witness (subject_id, sn),
// cancelling the outstanding solicitation once every current witness has
// signed.
func (e *Engine) SignaturesReceived(msg SignaturesReceived) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subj, err := e.events.Subject(msg.SubjectID)
	if err != nil {
		return err
	}
	ev, err := e.events.Event(msg.SubjectID, msg.SN)
	if err != nil {
		return err
	}
	witnesses, err := e.witnessSet(subj, ev)
	if err != nil {
		return err
	}

	known, err := e.register(msg.SubjectID, msg.SN)
	if err != nil {
		return err
	}
	for _, sig := range msg.Signatures {
		if !signerEligible(witnesses, sig.Signer) {
			continue
		}
		if err := crypto.Verify(sig.Signer, ev.Content.StateHash, sig); err != nil {
			continue
		}
		known[sig.Signer.String()] = sig
	}
	if err := e.registers.Put(registerKey(msg.SubjectID, msg.SN), known); err != nil {
		return err
	}

	if len(known) >= len(witnesses) {
		e.taskMgr.Cancel(taskID(msg.SubjectID))
		e.notifier.Emit(events.DistributionComplete{SubjectID: msg.SubjectID.String(), SN: msg.SN})
		return nil
	}

	var outstanding []crypto.KeyIdentifier
	for _, w := range witnesses {
		if _, signed := known[w.String()]; !signed {
			outstanding = append(outstanding, w)
		}
	}
	e.taskMgr.Submit(tasks.Task{
		ID:      taskID(msg.SubjectID),
		Message: AskForSignatures{SubjectID: msg.SubjectID, SN: msg.SN, Requested: outstanding, Sender: e.self},
		Targets: outstanding,
	})
	return nil
}

// GovernanceUpdated recomputes the witness set for every subject pinned
// to governanceID: subjects this node is no longer a witness for have
// their register dropped, and subjects with newly missing signers get a
// fresh AskForSignatures targeting exactly those signers.
func (e *Engine) GovernanceUpdated(governanceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	subjects, err := e.events.SubjectsByGovernance(governanceID)
	if err != nil {
		return err
	}
	for _, subj := range subjects {
		sn := subj.LedgerState.HeadSN
		ev, err := e.events.Event(subj.SubjectID, sn)
		if err != nil {
			continue
		}
		witnesses, err := e.witnessSet(subj, ev)
		if err != nil {
			continue
		}
		if e.key == nil || !signerEligible(witnesses, e.self) {
			if err := e.registers.Delete(registerKey(subj.SubjectID, sn)); err != nil && err != storage.ErrNotFound {
				return err
			}
			e.taskMgr.Cancel(taskID(subj.SubjectID))
			continue
		}

		known, err := e.register(subj.SubjectID, sn)
		if err != nil {
			return err
		}
		var missing []crypto.KeyIdentifier
		for _, w := range witnesses {
			if _, signed := known[w.String()]; !signed {
				missing = append(missing, w)
			}
		}
		if len(missing) == 0 {
			continue
		}
		e.taskMgr.Submit(tasks.Task{
			ID:      taskID(subj.SubjectID),
			Message: AskForSignatures{SubjectID: subj.SubjectID, SN: sn, Requested: missing, Sender: e.self},
			Targets: missing,
		})
	}
	return nil
}

func (e *Engine) register(subjectID crypto.Digest, sn uint64) (map[string]crypto.Signature, error) {
	known, err := e.registers.Get(registerKey(subjectID, sn))
	if err == storage.ErrNotFound {
		return make(map[string]crypto.Signature), nil
	}
	if err != nil {
		return nil, err
	}
	return known, nil
}

func (e *Engine) witnessSet(subj subject.Subject, ev subject.Event) ([]crypto.KeyIdentifier, error) {
	meta := governance.Metadata{
		GovernanceID:      subj.GovernanceID.String(),
		GovernanceVersion: ev.Content.GovernanceVersion,
		Namespace:         subj.Namespace,
		SchemaID:          subj.SchemaID,
	}
	return e.resolver.GetSigners(meta, governance.StageWitness)
}

func signerEligible(signers []crypto.KeyIdentifier, candidate crypto.KeyIdentifier) bool {
	for _, s := range signers {
		if s.Equal(candidate) {
			return true
		}
	}
	return false
}
