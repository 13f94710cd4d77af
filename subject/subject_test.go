package subject

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
)

func genesisEvent(t *testing.T, owner *crypto.PrivateKey, payload json.RawMessage) Event {
	t.Helper()
	content := EventContent{
		SN:           0,
		EventRequest: NewCreateRequest(CreateRequest{SchemaID: "widget", Payload: payload}),
		Approved:     true,
		Timestamp:    time.Now().UTC(),
	}
	// state_hash depends on the subject produced, which depends on
	// nothing from content except Approved/payload here, so compute it
	// the same way FromGenesis will.
	preview := &Subject{Properties: payload, Approved: true}
	hash, err := canonicalHash(preview)
	require.NoError(t, err)
	content.StateHash = hash

	contentHash, err := content.Hash()
	require.NoError(t, err)
	sig, err := crypto.Sign(owner, contentHash)
	require.NoError(t, err)
	return Event{Content: content, ProposalSignature: sig}
}

func TestFromGenesis(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	payload := json.RawMessage(`{"count":0}`)
	event := genesisEvent(t, owner, payload)

	s, err := FromGenesis(event, owner.KeyIdentifier(), owner.KeyIdentifier(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.SN)
	require.True(t, s.IsGovernance())
	require.JSONEq(t, `{"count":0}`, string(s.Properties))
}

func TestApplyAdvancesStateAndRejectsOutOfOrder(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	s, err := FromGenesis(genesisEvent(t, owner, json.RawMessage(`{"count":0}`)), owner.KeyIdentifier(), owner.KeyIdentifier(), nil)
	require.NoError(t, err)

	nextPayload := json.RawMessage(`{"count":1}`)
	hash, err := FutureStateHash(s, NewStateRequest(StateRequest{Payload: nextPayload}), true)
	require.NoError(t, err)

	event := Event{Content: EventContent{
		SN:           1,
		EventRequest: NewStateRequest(StateRequest{Payload: nextPayload}),
		Approved:     true,
		StateHash:    hash,
	}}

	// Out-of-order: sn=2 before sn=1 exists.
	badEvent := event
	badEvent.Content.SN = 2
	err = Apply(s, badEvent)
	var notInOrder *NotInOrder
	require.ErrorAs(t, err, &notInOrder)
	require.Equal(t, uint64(1), notInOrder.Expected)

	require.NoError(t, Apply(s, event))
	require.Equal(t, uint64(1), s.SN)
	require.JSONEq(t, `{"count":1}`, string(s.Properties))

	require.ErrorIs(t, Apply(s, event), ErrDuplicateEvent)
}

func TestApplyUnapprovedLeavesPropertiesUnchanged(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	s, err := FromGenesis(genesisEvent(t, owner, json.RawMessage(`{"count":0}`)), owner.KeyIdentifier(), owner.KeyIdentifier(), nil)
	require.NoError(t, err)

	hash, err := FutureStateHash(s, NewStateRequest(StateRequest{Payload: json.RawMessage(`{"count":99}`)}), false)
	require.NoError(t, err)

	event := Event{Content: EventContent{
		SN:           1,
		EventRequest: NewStateRequest(StateRequest{Payload: json.RawMessage(`{"count":99}`)}),
		Approved:     false,
		StateHash:    hash,
	}}
	require.NoError(t, Apply(s, event))
	require.Equal(t, uint64(1), s.SN)
	require.JSONEq(t, `{"count":0}`, string(s.Properties))
}

func TestFakeApplyMatchesApply(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	s, err := FromGenesis(genesisEvent(t, owner, json.RawMessage(`{"count":0}`)), owner.KeyIdentifier(), owner.KeyIdentifier(), nil)
	require.NoError(t, err)

	hash, err := FutureStateHash(s, NewStateRequest(StateRequest{Payload: json.RawMessage(`{"count":1}`)}), true)
	require.NoError(t, err)
	event := Event{Content: EventContent{
		SN:           1,
		EventRequest: NewStateRequest(StateRequest{Payload: json.RawMessage(`{"count":1}`)}),
		Approved:     true,
		StateHash:    hash,
	}}

	previewed, err := FakeApply(s, event)
	require.NoError(t, err)

	applied := cloneSubject(s)
	require.NoError(t, Apply(applied, event))

	require.Equal(t, applied.Properties, previewed.Properties)
	require.Equal(t, applied.SN, previewed.SN)
	require.Equal(t, applied.LedgerState, previewed.LedgerState)
}

func TestApplyPatchPayload(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	s, err := FromGenesis(genesisEvent(t, owner, json.RawMessage(`{"count":0}`)), owner.KeyIdentifier(), owner.KeyIdentifier(), nil)
	require.NoError(t, err)

	patch := json.RawMessage(`[{"op":"replace","path":"/count","value":7}]`)
	request := NewStateRequest(StateRequest{Payload: patch, PatchPayload: true})
	hash, err := FutureStateHash(s, request, true)
	require.NoError(t, err)

	event := Event{Content: EventContent{SN: 1, EventRequest: request, Approved: true, StateHash: hash}}
	require.NoError(t, Apply(s, event))
	require.JSONEq(t, `{"count":7}`, string(s.Properties))
}
