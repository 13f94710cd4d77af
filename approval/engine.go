// Package approval implements the quorum-of-signatures protocol that turns
// a subject owner's proposed event into a committed, approved=true/false
// fact: a pending-request register plus its termination rules.
//
// One pending request per request_hash, resolved against a narrow
// Resolver port onto the governance interpreter, with all mutation
// serialized through a single entrypoint mutex — the same shape used for
// collected-signatures-vs-resolved-threshold quorum counting elsewhere
// in this module.
package approval

import (
	"sync"

	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/tasks"
)

// Resolver is the narrow governance port this engine needs: who may
// approve, and how many approvals are required.
type Resolver interface {
	GetSigners(meta governance.Metadata, stage governance.Stage) ([]crypto.KeyIdentifier, error)
	GetQuorum(meta governance.Metadata, stage governance.Stage) (governance.Quorum, error)
}

// TaskSubmitter is the narrow message-task-manager port this engine needs
// to solicit and retarget approvals.
type TaskSubmitter interface {
	Submit(task tasks.Task)
	Cancel(taskID string)
}

// TerminationHandler is invoked once a pending request reaches a verdict —
// the caller (typically the node's event-construction path) builds and
// signs the actual subject.Event and feeds it to the ledger.
type TerminationHandler func(request Request, approved bool)

type pendingRequest struct {
	request   Request
	approvals map[string]Approval
	config    tasks.Config
}

// Engine holds one pending request per request_hash and drives it to a
// positive/negative quorum verdict as approvals arrive.
type Engine struct {
	mu sync.Mutex

	resolver   Resolver
	taskMgr    TaskSubmitter
	notifier   events.Emitter
	automation AutomationMode
	onTerm     TerminationHandler

	pending map[string]*pendingRequest
}

type Option func(*Engine)

func WithAutomation(mode AutomationMode) Option {
	return func(e *Engine) { e.automation = mode }
}

func WithNotifier(n events.Emitter) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(resolver Resolver, taskMgr TaskSubmitter, onTerm TerminationHandler, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		taskMgr:  taskMgr,
		notifier: events.NoopEmitter{},
		onTerm:   onTerm,
		pending:  make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit registers a fresh pending request and dispatches an approval
// solicitation task to request.GovernanceID's Approve-stage signers.
func (e *Engine) Submit(request Request, config tasks.Config) (crypto.Digest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hash, err := request.Hash()
	if err != nil {
		return crypto.Digest{}, err
	}
	meta := e.metadata(request)
	signers, err := e.resolver.GetSigners(meta, governance.StageApprove)
	if err != nil {
		return crypto.Digest{}, err
	}

	e.pending[hash.String()] = &pendingRequest{request: request, approvals: make(map[string]Approval), config: config}
	e.taskMgr.Submit(tasks.Task{
		ID:      taskID(request.SubjectID, request.ExpectedSN),
		Message: ApprovalSolicitation{Request: request, RequestHash: hash},
		Targets: signers,
		Config:  config,
	})
	e.notifier.Emit(events.RequestReached{SubjectID: request.SubjectID.String(), SN: request.ExpectedSN, Stage: string(governance.StageApprove)})
	return hash, nil
}

// Approve records one signer's verdict: an unknown request, a hash or
// expected_sn mismatch, or an unauthorized signer is rejected; otherwise
// the verdict is tallied and a quorum outcome re-checked.
func (e *Engine) Approve(approval Approval) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := approval.RequestHash.String()
	pr, ok := e.pending[key]
	if !ok {
		return ErrUnknownRequest
	}

	recomputed, err := pr.request.Hash()
	if err != nil {
		return err
	}
	if !recomputed.Equal(approval.RequestHash) {
		return ErrRequestHashMismatch
	}
	if approval.ExpectedSN != pr.request.ExpectedSN {
		return ErrExpectedSNMismatch
	}

	meta := e.metadata(pr.request)
	signers, err := e.resolver.GetSigners(meta, governance.StageApprove)
	if err != nil {
		return err
	}
	if !signerEligible(signers, approval.Signer) {
		return ErrSignerNotAuthorized
	}

	if existing, dup := pr.approvals[approval.Signer.String()]; dup {
		if existing.Decision == approval.Decision {
			return nil // duplicate, accepted idempotently
		}
	}
	pr.approvals[approval.Signer.String()] = approval

	return e.checkTermination(key, pr, meta, signers)
}

// AutomatedDecision reports the verdict this node's own automation mode
// would produce for a request it is itself authorized to approve, or
// false if automation is Normal (no automated verdict).
func (e *Engine) AutomatedDecision() (Decision, bool) {
	switch e.automation {
	case AlwaysAccept:
		return Accept, true
	case AlwaysReject:
		return Reject, true
	default:
		return "", false
	}
}

func (e *Engine) metadata(r Request) governance.Metadata {
	return governance.Metadata{
		GovernanceID:      r.GovernanceID,
		GovernanceVersion: r.GovernanceVersion,
		Namespace:         r.Namespace,
		SchemaID:          r.SchemaID,
	}
}

func (e *Engine) checkTermination(key string, pr *pendingRequest, meta governance.Metadata, signers []crypto.KeyIdentifier) error {
	quorum, err := e.resolver.GetQuorum(meta, governance.StageApprove)
	if err != nil {
		return err
	}
	required := quorum.Resolve(len(signers))

	positive, negative := 0, 0
	for _, a := range pr.approvals {
		if a.Decision == Accept {
			positive++
		} else {
			negative++
		}
	}

	switch {
	case positive >= required:
		e.terminate(key, pr, true, positive, required)
	case negative > len(signers)-required:
		e.terminate(key, pr, false, negative, len(signers))
	default:
		e.retarget(key, pr, signers)
	}
	return nil
}

func (e *Engine) terminate(key string, pr *pendingRequest, approved bool, collected, required int) {
	delete(e.pending, key)
	e.taskMgr.Cancel(taskID(pr.request.SubjectID, pr.request.ExpectedSN))
	if approved {
		e.notifier.Emit(events.RequestPositiveQuorumReached{
			SubjectID: pr.request.SubjectID.String(), SN: pr.request.ExpectedSN,
			Stage: string(governance.StageApprove), Collected: collected, Required: required,
		})
	} else {
		e.notifier.Emit(events.RequestNegativeQuorumReached{
			SubjectID: pr.request.SubjectID.String(), SN: pr.request.ExpectedSN,
			Stage: string(governance.StageApprove), Rejected: collected, Eligible: required,
		})
	}
	if e.onTerm != nil {
		e.onTerm(pr.request, approved)
	}
}

// retarget narrows the outstanding solicitation to signers who have not
// yet responded, replacing the task under its existing id.
func (e *Engine) retarget(key string, pr *pendingRequest, signers []crypto.KeyIdentifier) {
	var outstanding []crypto.KeyIdentifier
	for _, s := range signers {
		if _, signed := pr.approvals[s.String()]; !signed {
			outstanding = append(outstanding, s)
		}
	}
	hash, err := pr.request.Hash()
	if err != nil {
		return
	}
	e.taskMgr.Submit(tasks.Task{
		ID:      taskID(pr.request.SubjectID, pr.request.ExpectedSN),
		Message: ApprovalSolicitation{Request: pr.request, RequestHash: hash},
		Targets: outstanding,
		Config:  pr.config,
	})
}

func signerEligible(signers []crypto.KeyIdentifier, candidate crypto.KeyIdentifier) bool {
	for _, s := range signers {
		if s.Equal(candidate) {
			return true
		}
	}
	return false
}

// ApprovalSolicitation is the message dispatched to a request's Approve-
// stage signers, asking them to sign and return an Approval.
type ApprovalSolicitation struct {
	Request     Request
	RequestHash crypto.Digest
}
