package subject

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// canonicalSubjectData is the exact shape state_hash is computed over:
// everything that changes as a result of applying an event, and nothing
// that doesn't (owner/schema/namespace/ids are fixed at genesis and would
// be redundant noise in every subsequent hash).
type canonicalSubjectData struct {
	SN          uint64          `json:"sn"`
	Properties  json.RawMessage `json:"properties"`
	Approved    bool            `json:"approved"`
}

// GenesisStateHash computes the state_hash a genesis event's content must
// carry for the given properties — the preview a caller signs over before
// a Subject (and its derived subject_id) exists at all.
func GenesisStateHash(properties json.RawMessage) (crypto.Digest, error) {
	return canonicalHash(&Subject{Properties: properties, Approved: true})
}

func canonicalHash(s *Subject) (crypto.Digest, error) {
	return crypto.DigestJSON(canonicalSubjectData{
		SN:         s.SN,
		Properties: s.Properties,
		Approved:   s.Approved,
	})
}

// FromGenesis constructs a brand-new Subject from its genesis event.
//
// initialState is the schema's declared initial_value; it is used as the
// subject's properties when the Create request's own payload is empty,
// letting a governance-declared default apply without every creator
// needing to repeat it verbatim.
func FromGenesis(event Event, owner crypto.KeyIdentifier, subjectPublicKey crypto.KeyIdentifier, initialState json.RawMessage) (*Subject, error) {
	content := event.Content
	if content.SN != 0 {
		return nil, fmt.Errorf("%w: genesis sn must be 0, got %d", ErrInvalidGenesis, content.SN)
	}
	if content.EventRequest.Kind != RequestCreate || content.EventRequest.Create == nil {
		return nil, fmt.Errorf("%w: genesis event_request must be Create", ErrInvalidGenesis)
	}
	create := content.EventRequest.Create

	if err := event.VerifyProposal(owner); err != nil {
		return nil, err
	}

	properties := create.Payload
	if len(properties) == 0 {
		properties = initialState
	}

	eventHash, err := event.Hash()
	if err != nil {
		return nil, fmt.Errorf("subject: hashing genesis event: %w", err)
	}
	subjectID, err := crypto.DigestJSON(struct {
		EventHash crypto.Digest        `json:"event_hash"`
		Owner     crypto.KeyIdentifier `json:"owner"`
	}{EventHash: eventHash, Owner: owner})
	if err != nil {
		return nil, fmt.Errorf("subject: deriving subject id: %w", err)
	}

	s := &Subject{
		SubjectID:    subjectID,
		GovernanceID: create.GovernanceID,
		SchemaID:     create.SchemaID,
		Namespace:    create.Namespace,
		Owner:        owner,
		PublicKey:    subjectPublicKey,
		Properties:   properties,
		SN:           0,
		LedgerState:  LedgerState{HeadSN: 0},
		Approved:     content.Approved,
	}

	expected, err := canonicalHash(s)
	if err != nil {
		return nil, err
	}
	if !expected.Equal(content.StateHash) {
		return nil, fmt.Errorf("%w: genesis", ErrStateHashMismatch)
	}
	return s, nil
}

// Apply mutates subject in place according to event. subject must already
// exist (post-genesis); use FromGenesis for sn=0.
func Apply(s *Subject, event Event) error {
	result, err := applyInto(cloneSubject(s), event)
	if err != nil {
		return err
	}
	*s = *result
	return nil
}

// FakeApply previews the result of applying event to subject without
// mutating it, returning the subject data that would result.
// apply(fake_apply(subject, event)) must equal apply(subject, event) —
// FakeApply and Apply share the same applyInto implementation so that
// holds by construction.
func FakeApply(s *Subject, event Event) (*Subject, error) {
	return applyInto(cloneSubject(s), event)
}

// FutureStateHash computes the state_hash an event would need to carry in
// order to apply cleanly to subject, without requiring the caller to
// construct a full Event first.
func FutureStateHash(s *Subject, request EventRequest, approved bool) (crypto.Digest, error) {
	preview := cloneSubject(s)
	if err := mutateProperties(preview, request, approved); err != nil {
		return crypto.Digest{}, err
	}
	preview.SN = s.SN + 1
	preview.Approved = approved
	return canonicalHash(preview)
}

func applyInto(s *Subject, event Event) (*Subject, error) {
	if s.Properties == nil {
		return nil, ErrSubjectHasNoData
	}

	content := event.Content
	expected := s.LedgerState.HeadSN + 1
	if content.SN <= s.LedgerState.HeadSN {
		return nil, ErrDuplicateEvent
	}
	if content.SN != expected {
		return nil, &NotInOrder{Expected: expected, Got: content.SN}
	}
	if content.EventRequest.Kind == RequestCreate {
		return nil, ErrAlreadyCreated
	}

	if content.EventRequest.Kind == RequestState {
		if err := mutateProperties(s, content.EventRequest, content.Approved); err != nil {
			return nil, err
		}
	}
	s.SN = content.SN
	s.Approved = content.Approved

	actual, err := canonicalHash(s)
	if err != nil {
		return nil, err
	}
	if !actual.Equal(content.StateHash) {
		return nil, ErrStateHashMismatch
	}

	s.LedgerState.HeadSN = content.SN
	s.LedgerState.NegotiatingNext = false
	if s.LedgerState.HeadCandidateSN != nil && *s.LedgerState.HeadCandidateSN == content.SN {
		s.LedgerState.HeadCandidateSN = nil
	}
	return s, nil
}

// mutateProperties applies a State request's payload, in place: an
// unapproved request advances sn without changing properties; an
// approved request either replaces properties wholesale or applies a
// JSON-Patch to them.
func mutateProperties(s *Subject, request EventRequest, approved bool) error {
	if !approved {
		return nil
	}
	if request.Kind != RequestState || request.State == nil {
		return nil
	}
	state := request.State
	if !state.PatchPayload {
		s.Properties = append(json.RawMessage(nil), state.Payload...)
		return nil
	}
	patch, err := jsonpatch.DecodePatch(state.Payload)
	if err != nil {
		return fmt.Errorf("subject: decoding state patch: %w", err)
	}
	patched, err := patch.Apply(s.Properties)
	if err != nil {
		return fmt.Errorf("subject: applying state patch: %w", err)
	}
	s.Properties = patched
	return nil
}

func cloneSubject(s *Subject) *Subject {
	clone := *s
	clone.Properties = append(json.RawMessage(nil), s.Properties...)
	if s.LedgerState.HeadCandidateSN != nil {
		v := *s.LedgerState.HeadCandidateSN
		clone.LedgerState.HeadCandidateSN = &v
	}
	return &clone
}
