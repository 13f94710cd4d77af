// Package validation implements the notary protocol: a node asked to
// co-sign a Proof cross-checks it against the last proof it recorded for
// that subject, verifies whatever chain evidence accompanies a gap, and
// either signs or rejects.
//
// A single mutex-serialized entrypoint and narrow ports onto governance
// resolution and subject lookup, the same shape used throughout this
// module's protocol engines.
package validation

import (
	"sync"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/subject"
)

// GovernanceVersions is the narrow port Engine needs to know how current
// a proof's governance_version is.
type GovernanceVersions interface {
	CurrentVersion(governanceID string) (uint64, error)
}

// Resolver is the narrow governance port this engine needs: who may
// validate, and how many validation signatures are required.
type Resolver interface {
	GetSigners(meta governance.Metadata, stage governance.Stage) ([]crypto.KeyIdentifier, error)
	GetQuorum(meta governance.Metadata, stage governance.Stage) (governance.Quorum, error)
}

// SubjectLookup is the narrow port this engine needs to recover a
// subject's own public key, to verify its subject_signature over a proof.
type SubjectLookup interface {
	Subject(subjectID crypto.Digest) (subject.Subject, error)
}

const notaryRegisterNamespace = "notary_register"

// Engine holds the last accepted Proof per subject and drives each
// incoming NotaryEvent through governance-version, signature and
// chain-continuity checks before signing.
type Engine struct {
	mu sync.Mutex

	versions GovernanceVersions
	resolver Resolver
	subjects SubjectLookup
	key      *crypto.PrivateKey

	lastProofs *storage.Collection[Proof]
}

func NewEngine(db storage.Database, versions GovernanceVersions, resolver Resolver, subjects SubjectLookup, key *crypto.PrivateKey) *Engine {
	return &Engine{
		versions:   versions,
		resolver:   resolver,
		subjects:   subjects,
		key:        key,
		lastProofs: storage.NewCollection[Proof](db, notaryRegisterNamespace),
	}
}

// HandleNotaryEvent validates ev against this node's own view of the
// subject's chain and, if it holds up, records ev.Proof as the new
// last_proof and returns a fresh notary_signature over it.
func (e *Engine) HandleNotaryEvent(ev NotaryEvent) (NotaryResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proof := ev.Proof

	actual, err := e.versions.CurrentVersion(proof.GovernanceID)
	if err != nil {
		return NotaryResponse{}, err
	}
	if actual < proof.GovernanceVersion {
		return NotaryResponse{}, ErrGovernanceVersionTooHigh
	}
	if actual > proof.GovernanceVersion {
		resend := actual
		return NotaryResponse{ResendWithVersion: &resend, GovernanceVersion: actual}, ErrGovernanceVersionTooLow
	}

	subj, err := e.subjects.Subject(proof.SubjectID)
	if err != nil {
		return NotaryResponse{}, err
	}
	proofHash, err := crypto.DigestJSON(proof)
	if err != nil {
		return NotaryResponse{}, err
	}
	if err := crypto.Verify(subj.PublicKey, proofHash, ev.SubjectSignature); err != nil {
		return NotaryResponse{}, ErrSubjectSignatureInvalid
	}

	last, err := e.lastProofs.Get(proof.SubjectID.String())
	haveLast := true
	if err == storage.ErrNotFound {
		haveLast = false
	} else if err != nil {
		return NotaryResponse{}, err
	}

	switch {
	case haveLast && last.SN > proof.SN:
		return NotaryResponse{}, ErrStaleProof

	case haveLast && last.SN == proof.SN:
		if !last.similar(proof) {
			return NotaryResponse{}, ErrDifferentProofForEvent
		}

	case haveLast && last.SN+1 == proof.SN:
		if ev.PreviousProof == nil {
			return NotaryResponse{}, ErrMissingPreviousProof
		}
		if !last.similar(*ev.PreviousProof) {
			return NotaryResponse{}, ErrBrokenChain
		}
		if !proof.chainsFrom(*ev.PreviousProof) {
			return NotaryResponse{}, ErrBrokenChain
		}

	default:
		// Either no last_proof at all and proof.SN > 0, or a gap of more
		// than one sn: previous_proof must authenticate itself via its
		// own validation-signature quorum.
		if proof.SN > 0 {
			if err := e.validatePreviousProofQuorum(ev); err != nil {
				return NotaryResponse{}, err
			}
			if !proof.chainsFrom(*ev.PreviousProof) {
				return NotaryResponse{}, ErrBrokenChain
			}
		}
	}

	if proof.SN == 0 && proof.GovernanceVersion != proof.GenesisGovernanceVersion {
		return NotaryResponse{}, ErrGenesisGovernanceVersionMismatch
	}

	if err := e.lastProofs.Put(proof.SubjectID.String(), proof); err != nil {
		return NotaryResponse{}, err
	}

	signature, err := crypto.Sign(e.key, proof.EventHash)
	if err != nil {
		return NotaryResponse{}, err
	}
	return NotaryResponse{NotarySignature: signature, GovernanceVersion: actual}, nil
}

// validatePreviousProofQuorum authenticates ev.PreviousProof via its own
// prev_event_validation_signatures, required whenever this node has no
// directly preceding last_proof to chain against.
func (e *Engine) validatePreviousProofQuorum(ev NotaryEvent) error {
	if ev.PreviousProof == nil {
		return ErrMissingPreviousProof
	}
	prev := *ev.PreviousProof

	meta := governance.Metadata{
		GovernanceID:      prev.GovernanceID,
		GovernanceVersion: prev.GovernanceVersion,
		Namespace:         prev.Namespace,
		SchemaID:          prev.SchemaID,
	}
	signers, err := e.resolver.GetSigners(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	quorum, err := e.resolver.GetQuorum(meta, governance.StageValidate)
	if err != nil {
		return err
	}
	required := quorum.Resolve(len(signers))

	seen := make(map[string]bool)
	count := 0
	for _, sig := range ev.PrevEventValidationSignatures {
		if !signerEligible(signers, sig.Signer) {
			continue
		}
		if seen[sig.Signer.String()] {
			continue
		}
		if err := crypto.Verify(sig.Signer, prev.EventHash, sig); err != nil {
			continue
		}
		seen[sig.Signer.String()] = true
		count++
	}
	if count < required {
		return ErrPreviousProofQuorumIncomplete
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
