// Package ledger is the per-subject event-sourcing engine: it admits
// genesis and state events into independently evolving subject chains,
// tracks each subject's LedgerState, and drives LCE (Last Certified
// Event) gap-fill recovery when events arrive out of order.
//
// Storage is one namespaced storage.Collection per subject.Subject and
// subject.Event, with a single mutex
// serializing every mutation.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/schema"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
)

// GapRequester is the narrow port Engine uses to ask the network layer to
// fetch a missing intermediate event. Kept as an interface (rather than an
// import of the tasks/dispatch packages) so ledger has no dependency on
// message delivery — only on being told when delivery is needed.
type GapRequester interface {
	RequestIntermediateEvent(subjectID crypto.Digest, sn uint64) error
	RequestGenesisEvent(subjectID crypto.Digest) error
}

// noopGapRequester is used when no network layer is wired (tests, local
// single-node runs); gap-fill requests are simply dropped.
type noopGapRequester struct{}

func (noopGapRequester) RequestIntermediateEvent(crypto.Digest, uint64) error { return nil }
func (noopGapRequester) RequestGenesisEvent(crypto.Digest) error              { return nil }

var admittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_events_admitted_total",
	Help: "Ledger admission outcomes by subject event kind.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(admittedTotal)
}

// Engine is the ledger's single entrypoint for admitting events. Every
// mutation to a given subject's state is serialized through mu, giving a
// "no two events for the same subject are applied concurrently" guarantee
// at the cost of one engine-wide lock rather than per-subject locks —
// subjects are independently small, so the contention cost is low
// relative to the correctness risk of finer-grained locking.
type Engine struct {
	mu sync.Mutex

	db storage.Database

	subjects  *storage.Collection[subject.Subject]
	eventsCol *storage.Collection[subject.Event]

	schemas     *schema.Handler
	interpreter *governance.Interpreter
	notifier    events.Emitter
	gaps        GapRequester
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithGapRequester(g GapRequester) Option {
	return func(e *Engine) { e.gaps = g }
}

func WithNotifier(n events.Emitter) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(db storage.Database, schemas *schema.Handler, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		subjects:  storage.NewCollection[subject.Subject](db, "subject"),
		eventsCol: storage.NewCollection[subject.Event](db, "event"),
		schemas:   schemas,
		notifier:  events.NoopEmitter{},
		gaps:      noopGapRequester{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.interpreter = governance.NewInterpreter(e)
	return e
}

func eventKey(subjectID crypto.Digest, sn uint64) string {
	return fmt.Sprintf("%s/%d", subjectID.String(), sn)
}

// --- governance.EventSource, implemented directly on Engine ---

func (e *Engine) CurrentVersion(governanceID string) (uint64, error) {
	s, err := e.subjects.Get(governanceID)
	if err != nil {
		return 0, err
	}
	return s.LedgerState.HeadSN, nil
}

func (e *Engine) GenesisPayload(governanceID string) (json.RawMessage, error) {
	s, err := e.subjects.Get(governanceID)
	if err != nil {
		return nil, err
	}
	genesis, err := e.eventsCol.Get(eventKey(s.SubjectID, 0))
	if err != nil {
		return nil, err
	}
	if genesis.Content.EventRequest.Create == nil {
		return nil, fmt.Errorf("ledger: governance %s genesis is not a Create event", governanceID)
	}
	return genesis.Content.EventRequest.Create.Payload, nil
}

func (e *Engine) Patch(governanceID string, version uint64) (json.RawMessage, error) {
	s, err := e.subjects.Get(governanceID)
	if err != nil {
		return nil, err
	}
	ev, err := e.eventsCol.Get(eventKey(s.SubjectID, version))
	if err != nil {
		return nil, err
	}
	state := ev.Content.EventRequest.State
	if state == nil {
		return nil, fmt.Errorf("ledger: governance %s event %d is not a State event", governanceID, version)
	}
	if state.PatchPayload {
		return state.Payload, nil
	}
	return json.Marshal([]map[string]any{{"op": "replace", "path": "", "value": json.RawMessage(state.Payload)}})
}

// Interpreter exposes the governance interpreter built over this engine's
// own event log, for callers (approval/validation/distribution engines)
// that need to resolve signers/quorum without importing ledger's storage
// directly.
func (e *Engine) Interpreter() *governance.Interpreter { return e.interpreter }

// Subject returns a subject's current header/state, if known.
func (e *Engine) Subject(subjectID crypto.Digest) (subject.Subject, error) {
	return e.subjects.Get(subjectID.String())
}

// Event returns a specific committed event, if known.
func (e *Engine) Event(subjectID crypto.Digest, sn uint64) (subject.Event, error) {
	return e.eventsCol.Get(eventKey(subjectID, sn))
}

// SubjectsByGovernance returns every subject currently pinned to
// governanceID. Used when a governance update requires recomputing
// witness sets for its whole subject population; the subject collection
// carries no secondary index by governance_id, so this scans and filters.
func (e *Engine) SubjectsByGovernance(governanceID string) ([]subject.Subject, error) {
	entries, err := e.subjects.Range("", storage.Ascending)
	if err != nil {
		return nil, err
	}
	var out []subject.Subject
	for _, entry := range entries {
		if entry.Value.GovernanceID.String() == governanceID {
			out = append(out, entry.Value)
		}
	}
	return out, nil
}
