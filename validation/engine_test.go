package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
)

type fakeVersions struct {
	version uint64
}

func (f *fakeVersions) CurrentVersion(string) (uint64, error) { return f.version, nil }

type fakeResolver struct {
	signers []crypto.KeyIdentifier
	quorum  governance.Quorum
}

func (f *fakeResolver) GetSigners(governance.Metadata, governance.Stage) ([]crypto.KeyIdentifier, error) {
	return f.signers, nil
}

func (f *fakeResolver) GetQuorum(governance.Metadata, governance.Stage) (governance.Quorum, error) {
	return f.quorum, nil
}

type fakeSubjects struct {
	subjects map[string]subject.Subject
}

func (f *fakeSubjects) Subject(subjectID crypto.Digest) (subject.Subject, error) {
	s, ok := f.subjects[subjectID.String()]
	if !ok {
		return subject.Subject{}, storage.ErrNotFound
	}
	return s, nil
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	return key
}

func testSubjectID() crypto.Digest {
	return crypto.Digest{Algorithm: crypto.DigestSHA256, Value: []byte("subject-1-subject-1-subject-1--")}
}

func signProof(t *testing.T, key *crypto.PrivateKey, p Proof) crypto.Signature {
	t.Helper()
	hash, err := crypto.DigestJSON(p)
	require.NoError(t, err)
	sig, err := crypto.Sign(key, hash)
	require.NoError(t, err)
	return sig
}

func eventHash(t *testing.T, seed byte) crypto.Digest {
	t.Helper()
	v := make([]byte, 32)
	v[0] = seed
	return crypto.Digest{Algorithm: crypto.DigestSHA256, Value: v}
}

func newTestEngine(t *testing.T, subjectKey *crypto.PrivateKey, notaryKey *crypto.PrivateKey, version uint64, signers []crypto.KeyIdentifier, quorum governance.Quorum) *Engine {
	t.Helper()
	subj := subject.Subject{SubjectID: testSubjectID(), PublicKey: subjectKey.KeyIdentifier()}
	subjects := &fakeSubjects{subjects: map[string]subject.Subject{testSubjectID().String(): subj}}
	return NewEngine(storage.NewMemDB(), &fakeVersions{version: version}, &fakeResolver{signers: signers, quorum: quorum}, subjects, notaryKey)
}

func TestHandleNotaryEventAcceptsGenesisProof(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	proof := Proof{
		SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1),
		SchemaID: "widget", GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0,
	}
	sig := signProof(t, subjectKey, proof)

	resp, err := e.HandleNotaryEvent(NotaryEvent{Proof: proof, SubjectSignature: sig})
	require.NoError(t, err)
	require.Equal(t, uint64(0), resp.GovernanceVersion)
	require.False(t, resp.NotarySignature.Signer.Equal(crypto.KeyIdentifier{}))
}

func TestHandleNotaryEventRejectsGenesisVersionMismatch(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 1, nil, governance.Majority())

	proof := Proof{
		SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1),
		SchemaID: "widget", GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 1,
	}
	sig := signProof(t, subjectKey, proof)

	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: proof, SubjectSignature: sig})
	require.ErrorIs(t, err, ErrGenesisGovernanceVersionMismatch)
}

func TestHandleNotaryEventRejectsGovernanceVersionTooHigh(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	proof := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 1, GovernanceVersion: 1}
	sig := signProof(t, subjectKey, proof)

	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: proof, SubjectSignature: sig})
	require.ErrorIs(t, err, ErrGovernanceVersionTooHigh)
}

func TestHandleNotaryEventRejectsGovernanceVersionTooLow(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 2, nil, governance.Majority())

	proof := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0}
	sig := signProof(t, subjectKey, proof)

	resp, err := e.HandleNotaryEvent(NotaryEvent{Proof: proof, SubjectSignature: sig})
	require.ErrorIs(t, err, ErrGovernanceVersionTooLow)
	require.NotNil(t, resp.ResendWithVersion)
	require.Equal(t, uint64(2), *resp.ResendWithVersion)
}

func TestHandleNotaryEventRejectsBadSubjectSignature(t *testing.T) {
	subjectKey := mustKey(t)
	attacker := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	proof := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0}
	sig := signProof(t, attacker, proof)

	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: proof, SubjectSignature: sig})
	require.ErrorIs(t, err, ErrSubjectSignatureInvalid)
}

func TestHandleNotaryEventAdvancesChainBySNThenRejectsStale(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	genesis := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0}
	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: genesis, SubjectSignature: signProof(t, subjectKey, genesis)})
	require.NoError(t, err)

	next := Proof{
		SubjectID: testSubjectID(), SN: 1, EventHash: eventHash(t, 2), PrevEventHash: genesis.EventHash,
		GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0,
	}
	resp, err := e.HandleNotaryEvent(NotaryEvent{
		Proof: next, SubjectSignature: signProof(t, subjectKey, next), PreviousProof: &genesis,
	})
	require.NoError(t, err)
	require.False(t, resp.NotarySignature.Signer.Equal(crypto.KeyIdentifier{}))

	// Resubmitting sn=0 again is now stale relative to the recorded last_proof (sn=1).
	_, err = e.HandleNotaryEvent(NotaryEvent{Proof: genesis, SubjectSignature: signProof(t, subjectKey, genesis)})
	require.ErrorIs(t, err, ErrStaleProof)
}

func TestHandleNotaryEventRejectsDifferentProofForSameSN(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	genesis := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0}
	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: genesis, SubjectSignature: signProof(t, subjectKey, genesis)})
	require.NoError(t, err)

	rival := genesis
	rival.EventHash = eventHash(t, 99)
	_, err = e.HandleNotaryEvent(NotaryEvent{Proof: rival, SubjectSignature: signProof(t, subjectKey, rival)})
	require.ErrorIs(t, err, ErrDifferentProofForEvent)
}

func TestHandleNotaryEventRejectsBrokenChain(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	e := newTestEngine(t, subjectKey, notaryKey, 0, nil, governance.Majority())

	genesis := Proof{SubjectID: testSubjectID(), SN: 0, EventHash: eventHash(t, 1), GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0}
	_, err := e.HandleNotaryEvent(NotaryEvent{Proof: genesis, SubjectSignature: signProof(t, subjectKey, genesis)})
	require.NoError(t, err)

	next := Proof{
		SubjectID: testSubjectID(), SN: 1, EventHash: eventHash(t, 2), PrevEventHash: eventHash(t, 123), // wrong prev hash
		GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0,
	}
	_, err = e.HandleNotaryEvent(NotaryEvent{
		Proof: next, SubjectSignature: signProof(t, subjectKey, next), PreviousProof: &genesis,
	})
	require.ErrorIs(t, err, ErrBrokenChain)
}

func TestHandleNotaryEventGapRequiresPreviousProofQuorum(t *testing.T) {
	subjectKey := mustKey(t)
	notaryKey := mustKey(t)
	validator, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	require.NoError(t, err)
	signers := []crypto.KeyIdentifier{validator.KeyIdentifier()}
	e := newTestEngine(t, subjectKey, notaryKey, 0, signers, governance.Fixed(1))

	previous := Proof{
		SubjectID: testSubjectID(), SN: 5, EventHash: eventHash(t, 5),
		GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0,
	}
	prevSig, err := crypto.Sign(validator, previous.EventHash)
	require.NoError(t, err)

	next := Proof{
		SubjectID: testSubjectID(), SN: 6, EventHash: eventHash(t, 6), PrevEventHash: previous.EventHash,
		GovernanceID: "gov1", GenesisGovernanceVersion: 0, GovernanceVersion: 0,
	}

	// Missing validation signatures: quorum unmet.
	_, err = e.HandleNotaryEvent(NotaryEvent{
		Proof: next, SubjectSignature: signProof(t, subjectKey, next), PreviousProof: &previous,
	})
	require.ErrorIs(t, err, ErrPreviousProofQuorumIncomplete)

	// With the validator's signature over the previous proof's event hash, quorum is met.
	resp, err := e.HandleNotaryEvent(NotaryEvent{
		Proof: next, SubjectSignature: signProof(t, subjectKey, next), PreviousProof: &previous,
		PrevEventValidationSignatures: []crypto.Signature{prevSig},
	})
	require.NoError(t, err)
	require.False(t, resp.NotarySignature.Signer.Equal(crypto.KeyIdentifier{}))
}
