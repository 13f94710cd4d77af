package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/schema"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
)

// fakeGapRequester records every gap-fill request instead of reaching out to
// a real network layer, the same test-double pattern used for
// governance.EventSource in the governance package's own tests.
type fakeGapRequester struct {
	intermediate []uint64
	genesis      int
}

func (f *fakeGapRequester) RequestIntermediateEvent(_ crypto.Digest, sn uint64) error {
	f.intermediate = append(f.intermediate, sn)
	return nil
}

func (f *fakeGapRequester) RequestGenesisEvent(crypto.Digest) error {
	f.genesis++
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeGapRequester) {
	t.Helper()
	gaps := &fakeGapRequester{}
	e := NewEngine(storage.NewMemDB(), schema.NewHandler(), WithGapRequester(gaps))
	return e, gaps
}

func signGenesis(t *testing.T, key *crypto.PrivateKey, content subject.EventContent) subject.Event {
	t.Helper()
	hash, err := content.Hash()
	require.NoError(t, err)
	sig, err := crypto.Sign(key, hash)
	require.NoError(t, err)
	return subject.Event{Content: content, ProposalSignature: sig}
}

// createGovernance admits a governance subject whose "widget" schema policy
// requires a FIXED{1} validation quorum from its single member, alice.
func createGovernance(t *testing.T, e *Engine, ownerKey *crypto.PrivateKey, alice *crypto.PrivateKey) *subject.Subject {
	t.Helper()
	aliceKey := alice.KeyIdentifier()
	payload := map[string]any{
		"members": []map[string]any{
			{"id": "alice", "name": "Alice", "key": map[string]string{
				"scheme": string(aliceKey.Scheme),
				"public": hexEncode(aliceKey.Public),
			}},
		},
		"roles": []map[string]any{
			{"who": "ALL", "namespace": "", "role": "Create", "schema": "widget"},
			{"who": "MEMBERS", "namespace": "", "role": "Validate", "schema": "widget"},
		},
		"schemas": []map[string]any{
			{"id": "widget", "schema": map[string]any{"type": "object"}, "initial_value": map[string]any{"count": 0}},
		},
		"policies": []map[string]any{
			{"id": "widget", "approve": "MAJORITY", "evaluate": "MAJORITY", "validate": map[string]any{"FIXED": 1}},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	create := subject.CreateRequest{Payload: raw}
	content, err := e.PrepareGenesis(create)
	require.NoError(t, err)

	event := signGenesis(t, ownerKey, content)
	s, err := e.Genesis(event, ownerKey.KeyIdentifier(), ownerKey.KeyIdentifier(), ownerKey)
	require.NoError(t, err)
	require.True(t, s.IsGovernance())
	return s
}

// createWidget admits a "widget" subject under gov, owned by ownerKey.
func createWidget(t *testing.T, e *Engine, gov *subject.Subject, ownerKey *crypto.PrivateKey) *subject.Subject {
	t.Helper()
	create := subject.CreateRequest{GovernanceID: gov.SubjectID, SchemaID: "widget", Payload: json.RawMessage(`{"count":0}`)}
	content, err := e.PrepareGenesis(create)
	require.NoError(t, err)

	event := signGenesis(t, ownerKey, content)
	s, err := e.Genesis(event, ownerKey.KeyIdentifier(), ownerKey.KeyIdentifier(), ownerKey)
	require.NoError(t, err)
	require.False(t, s.IsGovernance())
	return s
}

// nextStateEvent builds and signs the sn=prev.SN+1 State event advancing
// properties to payload, chained onto prevEvent, with a validation signature
// bag signed by each of signers.
func nextStateEvent(t *testing.T, s *subject.Subject, prevEvent subject.Event, governanceVersion uint64, payload json.RawMessage, signers ...*crypto.PrivateKey) subject.Event {
	t.Helper()
	prevHash, err := prevEvent.Hash()
	require.NoError(t, err)

	request := subject.NewStateRequest(subject.StateRequest{SubjectID: s.SubjectID, Payload: payload})
	stateHash, err := subject.FutureStateHash(s, request, true)
	require.NoError(t, err)

	content := subject.EventContent{
		SubjectID:         s.SubjectID,
		SN:                s.SN + 1,
		PreviousEventHash: prevHash,
		GovernanceVersion: governanceVersion,
		EventRequest:      request,
		StateHash:         stateHash,
		Approved:          true,
	}
	contentHash, err := content.Hash()
	require.NoError(t, err)
	proposalSig, err := crypto.Sign(s.Keys, contentHash)
	require.NoError(t, err)

	event := subject.Event{Content: content, ProposalSignature: proposalSig}
	eventHash, err := event.Hash()
	require.NoError(t, err)
	for _, signer := range signers {
		sig, err := crypto.Sign(signer, eventHash)
		require.NoError(t, err)
		event.ValidationSignatures = append(event.ValidationSignatures, sig)
	}
	return event
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func TestGenesisThenInOrderEventWithQuorumCommits(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)

	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	event := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`), alice)
	require.NoError(t, e.ExternalEvent(event))

	stored, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.LedgerState.HeadSN)
	require.JSONEq(t, `{"count":1}`, string(stored.Properties))
}

func TestExternalEventRejectsIncompleteValidationQuorum(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)
	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	event := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`)) // no signers
	err = e.ExternalEvent(event)
	require.ErrorIs(t, err, ErrIncompleteValidation)
}

func TestExternalEventRejectsStaleEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)
	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	event := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`), alice)
	require.NoError(t, e.ExternalEvent(event))

	// Resubmitting the same (now stale) sn=1 event must be rejected.
	err = e.ExternalEvent(event)
	require.ErrorIs(t, err, ErrStaleEvent)
}

func TestExternalEventTracksCandidateLCEAndCatchesUp(t *testing.T) {
	e, gaps := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)
	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	event1 := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`), alice)
	require.NoError(t, e.ExternalEvent(event1))

	afterOne, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)

	event2 := nextStateEvent(t, &afterOne, event1, 0, json.RawMessage(`{"count":2}`), alice)
	afterTwoPreview, err := subject.FakeApply(&afterOne, event2)
	require.NoError(t, err)
	event3 := nextStateEvent(t, afterTwoPreview, event2, 0, json.RawMessage(`{"count":3}`), alice)

	// event3 (sn=3) arrives before event2 (sn=2): candidate LCE tracking.
	require.NoError(t, e.ExternalEvent(event3))
	require.Contains(t, gaps.intermediate, uint64(2))

	afterCandidate, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)
	require.NotNil(t, afterCandidate.LedgerState.HeadCandidateSN)
	require.Equal(t, uint64(3), *afterCandidate.LedgerState.HeadCandidateSN)
	require.Equal(t, uint64(1), afterCandidate.LedgerState.HeadSN)

	// Gap-fill event2 arrives, chains against the stored sn=1 event, and
	// promotion re-requests the now-reachable sn=3 candidate.
	require.NoError(t, e.ExternalIntermediateEvent(event2))
	require.Contains(t, gaps.intermediate, uint64(3))

	afterTwo, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), afterTwo.LedgerState.HeadSN)
	require.NotNil(t, afterTwo.LedgerState.HeadCandidateSN)

	require.NoError(t, e.ExternalIntermediateEvent(event3))

	final, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(3), final.LedgerState.HeadSN)
	require.Nil(t, final.LedgerState.HeadCandidateSN)
	require.JSONEq(t, `{"count":3}`, string(final.Properties))
}

func TestExternalIntermediateEventRejectsBrokenChain(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)
	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	event1 := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`), alice)
	require.NoError(t, e.ExternalEvent(event1))

	afterOne, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)

	// Tamper with previous_event_hash so it no longer chains to event1.
	broken := nextStateEvent(t, &afterOne, event1, 0, json.RawMessage(`{"count":2}`), alice)
	broken.Content.PreviousEventHash = crypto.Digest{}

	err = e.ExternalIntermediateEvent(broken)
	require.Error(t, err)
}

func TestEventValidatedCommitsWithoutQuorumCheck(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	widget := createWidget(t, e, gov, ownerKey)
	genesisEvent, err := e.Event(widget.SubjectID, 0)
	require.NoError(t, err)

	// No validation signatures at all: EventValidated trusts its caller to
	// have already confirmed quorum (the approval/validation engines' job).
	event := nextStateEvent(t, widget, genesisEvent, 0, json.RawMessage(`{"count":1}`))
	require.NoError(t, e.EventValidated(event))

	stored, err := e.Subject(widget.SubjectID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.LedgerState.HeadSN)
}

func TestGenesisRejectsDuplicateSubject(t *testing.T) {
	e, _ := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	alice, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	gov := createGovernance(t, e, ownerKey, alice)
	create := subject.CreateRequest{GovernanceID: gov.SubjectID, SchemaID: "widget", Payload: json.RawMessage(`{"count":0}`)}
	content, err := e.PrepareGenesis(create)
	require.NoError(t, err)
	event := signGenesis(t, ownerKey, content)

	_, err = e.Genesis(event, ownerKey.KeyIdentifier(), ownerKey.KeyIdentifier(), ownerKey)
	require.NoError(t, err)

	_, err = e.Genesis(event, ownerKey.KeyIdentifier(), ownerKey.KeyIdentifier(), ownerKey)
	require.ErrorIs(t, err, ErrSubjectAlreadyExists)
}

func TestExternalEventWithoutStateParksPendingGenesis(t *testing.T) {
	e, gaps := newTestEngine(t)
	ownerKey, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)

	unknownSubject := crypto.Digest{Algorithm: crypto.DigestSHA256, Value: []byte("not-a-real-subject-------------")}
	content := subject.EventContent{
		SubjectID: unknownSubject,
		SN:        1,
		EventRequest: subject.NewStateRequest(subject.StateRequest{
			SubjectID: unknownSubject,
			Payload:   json.RawMessage(`{"count":1}`),
		}),
		Approved: true,
	}
	event := signGenesis(t, ownerKey, content)

	err = e.ExternalEvent(event)
	require.NoError(t, err)
	require.Equal(t, 1, gaps.genesis)
}
