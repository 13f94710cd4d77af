// Package governance resolves, for a given (governance_id,
// governance_version) pin, which signers, quorum, schema and initial state
// apply to a subject — never by reaching into live governance state
// directly, since a subject is only ever authorized against the exact
// governance version it was pinned to.
//
// An engine holding an injected state-lookup port and policy structs
// whose quorum field is one of four variants (majority, fixed, percentage,
// byzantine-fault threshold), replayed against a pinned version rather
// than read from live state.
package governance

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// EventSource is the narrow port Interpreter needs onto a governance
// subject's own event log. It is implemented by the ledger package and
// injected here, rather than imported, so governance has no dependency on
// ledger (which itself depends on governance for admission decisions).
type EventSource interface {
	// CurrentVersion returns the governance subject's own current event
	// sequence number (its highest committed sn).
	CurrentVersion(governanceID string) (uint64, error)
	// GenesisPayload returns the governance subject's sn=0 state (the
	// whole initial governance document, not a patch).
	GenesisPayload(governanceID string) (json.RawMessage, error)
	// Patch returns the JSON-Patch document (RFC 6902) applied to reach
	// sn version from version-1. version is always >= 1.
	Patch(governanceID string, version uint64) (json.RawMessage, error)
}

// Metadata identifies the governance pin and schema/namespace scope an
// operation is being resolved for.
type Metadata struct {
	GovernanceID      string
	GovernanceVersion uint64
	Namespace         string
	SchemaID          string
}

// Interpreter resolves Models by pinned version, replaying the governance
// subject's JSON-Patch event stream over its genesis payload.
type Interpreter struct {
	source EventSource

	mu    sync.Mutex
	cache map[string]*Model
}

func NewInterpreter(source EventSource) *Interpreter {
	return &Interpreter{source: source, cache: make(map[string]*Model)}
}

func cacheKey(governanceID string, version uint64) string {
	return fmt.Sprintf("%s@%d", governanceID, version)
}

// Resolve returns the governance Model as of the pinned version. Even when
// pinnedVersion equals the governance's current version this replays from
// genesis rather than reading live state separately, so "pinned" and
// "live" share one code path and can never disagree.
func (i *Interpreter) Resolve(governanceID string, pinnedVersion uint64) (*Model, error) {
	key := cacheKey(governanceID, pinnedVersion)

	i.mu.Lock()
	if cached, ok := i.cache[key]; ok {
		i.mu.Unlock()
		return cached, nil
	}
	i.mu.Unlock()

	current, err := i.source.CurrentVersion(governanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownGovernance, err)
	}
	if pinnedVersion > current {
		return nil, fmt.Errorf("%w: pinned %d, current %d", ErrVersionTooHigh, pinnedVersion, current)
	}

	doc, err := i.source.GenesisPayload(governanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis: %v", ErrUnknownGovernance, err)
	}
	for v := uint64(1); v <= pinnedVersion; v++ {
		patchDoc, err := i.source.Patch(governanceID, v)
		if err != nil {
			return nil, fmt.Errorf("governance: loading patch %d for %q: %w", v, governanceID, err)
		}
		patch, err := jsonpatch.DecodePatch(patchDoc)
		if err != nil {
			return nil, fmt.Errorf("governance: decoding patch %d for %q: %w", v, governanceID, err)
		}
		doc, err = patch.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("governance: applying patch %d for %q: %w", v, governanceID, err)
		}
	}

	model, err := ParseModel(doc)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.cache[key] = model
	i.mu.Unlock()
	return model, nil
}

// GetSigners resolves the key identifiers authorized to sign stage for
// meta's schema/namespace under meta's pinned governance.
func (i *Interpreter) GetSigners(meta Metadata, stage Stage) ([]crypto.KeyIdentifier, error) {
	model, err := i.Resolve(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return nil, err
	}
	return model.Signers(stage, meta.Namespace, meta.SchemaID), nil
}

// GetQuorum resolves the Quorum that stage's policy requires for meta's
// schema under meta's pinned governance. stage must be one of Approve,
// Evaluate or Validate — the three policy-gated stages.
func (i *Interpreter) GetQuorum(meta Metadata, stage Stage) (Quorum, error) {
	model, err := i.Resolve(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return Quorum{}, err
	}
	policy, err := model.PolicyByID(meta.SchemaID)
	if err != nil {
		return Quorum{}, err
	}
	switch stage {
	case StageApprove:
		return policy.Approve, nil
	case StageEvaluate:
		return policy.Evaluate, nil
	case StageValidate:
		return policy.Validate, nil
	default:
		return Quorum{}, fmt.Errorf("governance: stage %q has no quorum policy", stage)
	}
}

// GetSchema resolves the declared SchemaDef for meta's schema under meta's
// pinned governance.
func (i *Interpreter) GetSchema(meta Metadata) (SchemaDef, error) {
	model, err := i.Resolve(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return SchemaDef{}, err
	}
	return model.SchemaByID(meta.SchemaID)
}

// GetInitialState resolves the declared initial_value for meta's schema
// under meta's pinned governance — the state a subject's ledger begins
// from once Create has been approved.
func (i *Interpreter) GetInitialState(meta Metadata) (json.RawMessage, error) {
	schemaDef, err := i.GetSchema(meta)
	if err != nil {
		return nil, err
	}
	return schemaDef.InitialValue, nil
}

// GetInvokatorRoles resolves every stage invokator is authorized to
// exercise for meta's schema/namespace under meta's pinned governance.
func (i *Interpreter) GetInvokatorRoles(invokator string, meta Metadata) ([]Stage, error) {
	model, err := i.Resolve(meta.GovernanceID, meta.GovernanceVersion)
	if err != nil {
		return nil, err
	}
	return model.InvokatorRoles(invokator, meta.Namespace, meta.SchemaID), nil
}

// IsGovernance reports whether a subject is itself a governance: a
// subject with no governance_id of its own is the root of a governance
// chain, self-governing.
func IsGovernance(subjectGovernanceID string) bool {
	return subjectGovernanceID == ""
}
