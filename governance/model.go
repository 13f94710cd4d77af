package governance

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// Stage names one step of a subject's lifecycle that a role binding or
// policy quorum can apply to.
type Stage string

const (
	StageCreate   Stage = "Create"
	StageInvoke   Stage = "Invoke"
	StageEvaluate Stage = "Evaluate"
	StageApprove  Stage = "Approve"
	StageValidate Stage = "Validate"
	StageWitness  Stage = "Witness"
	StageClose    Stage = "Close"
)

// Who is the membership predicate a role binding matches an invokator
// against when resolving its authorized stages.
type Who string

const (
	WhoID         Who = "ID"
	WhoMembers    Who = "MEMBERS"
	WhoAll        Who = "ALL"
	WhoNotMembers Who = "NOT_MEMBERS"
)

// Member is one named, keyed participant of a governance.
type Member struct {
	ID   string
	Name string
	Key  crypto.KeyIdentifier
}

// RoleBinding grants Role over Schema within Namespace to whoever Who (and,
// for WhoID, the specific member named by MemberID) matches.
type RoleBinding struct {
	Who       Who
	MemberID  string
	Namespace string
	Role      Stage
	Schema    string
}

// Matches reports whether invokator satisfies this binding's Who predicate,
// given isMember — whether invokator is a listed governance member at all.
func (b RoleBinding) Matches(invokator string, isMember bool) bool {
	switch b.Who {
	case WhoAll:
		return true
	case WhoMembers:
		return isMember
	case WhoNotMembers:
		return !isMember
	case WhoID:
		return isMember && invokator == b.MemberID
	default:
		return false
	}
}

// SchemaDef is one user-defined schema a governance authorizes subjects to
// be created against.
type SchemaDef struct {
	ID           string
	Schema       json.RawMessage
	InitialValue json.RawMessage
	Contract     json.RawMessage
}

// Policy binds a schema's quorum requirement for each signature-gated
// stage.
type Policy struct {
	ID       string
	Approve  Quorum
	Evaluate Quorum
	Validate Quorum
}

// Model is the parsed, typed form of a governance subject's current state.
// Interpreter produces one per (governance_id, governance_version) pin by
// replaying the governance subject's own event log; nothing downstream
// touches the raw JSON again.
type Model struct {
	Members  []Member
	Roles    []RoleBinding
	Schemas  []SchemaDef
	Policies []Policy
}

// wireModel mirrors the governance meta-schema's JSON shape (schema/governance.go)
// for decoding before conversion to Model's typed fields.
type wireModel struct {
	Members []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Key  struct {
			Scheme string `json:"scheme"`
			Public string `json:"public"`
		} `json:"key"`
	} `json:"members"`
	Roles []struct {
		Who       string `json:"who"`
		ID        string `json:"id"`
		Namespace string `json:"namespace"`
		Role      string `json:"role"`
		Schema    string `json:"schema"`
	} `json:"roles"`
	Schemas []struct {
		ID           string          `json:"id"`
		Schema       json.RawMessage `json:"schema"`
		InitialValue json.RawMessage `json:"initial_value"`
		Contract     json.RawMessage `json:"contract"`
	} `json:"schemas"`
	Policies []struct {
		ID       string `json:"id"`
		Approve  Quorum `json:"approve"`
		Evaluate Quorum `json:"evaluate"`
		Validate Quorum `json:"validate"`
	} `json:"policies"`
}

// ParseModel decodes a governance payload already known to have passed the
// governance meta-schema, returning ErrInvalidPayload wrapped with details
// on any structural inconsistency the schema itself cannot express (e.g.
// malformed hex keys).
func ParseModel(payload []byte) (*Model, error) {
	var wire wireModel
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	m := &Model{}
	for _, wm := range wire.Members {
		public, err := hex.DecodeString(wm.Key.Public)
		if err != nil {
			return nil, fmt.Errorf("%w: member %q key: %v", ErrInvalidPayload, wm.ID, err)
		}
		key, err := crypto.NewKeyIdentifier(crypto.Scheme(wm.Key.Scheme), public)
		if err != nil {
			return nil, fmt.Errorf("%w: member %q: %v", ErrInvalidPayload, wm.ID, err)
		}
		m.Members = append(m.Members, Member{ID: wm.ID, Name: wm.Name, Key: key})
	}
	for _, wr := range wire.Roles {
		m.Roles = append(m.Roles, RoleBinding{
			Who:       Who(wr.Who),
			MemberID:  wr.ID,
			Namespace: wr.Namespace,
			Role:      Stage(wr.Role),
			Schema:    wr.Schema,
		})
	}
	for _, ws := range wire.Schemas {
		m.Schemas = append(m.Schemas, SchemaDef{
			ID:           ws.ID,
			Schema:       ws.Schema,
			InitialValue: ws.InitialValue,
			Contract:     ws.Contract,
		})
	}
	for _, wp := range wire.Policies {
		m.Policies = append(m.Policies, Policy{
			ID:       wp.ID,
			Approve:  wp.Approve,
			Evaluate: wp.Evaluate,
			Validate: wp.Validate,
		})
	}

	if err := m.validateStructure(); err != nil {
		return nil, err
	}
	return m, nil
}

// validateStructure enforces the genesis structural invariants: unique
// schema ids, unique member ids, a policy for every schema and vice
// versa, and every role binding's schema/member references resolving.
// Whether approvers form a subset of validators is not checked, here or
// elsewhere.
func (m *Model) validateStructure() error {
	schemaIDs := make(map[string]bool, len(m.Schemas))
	for _, s := range m.Schemas {
		if schemaIDs[s.ID] {
			return fmt.Errorf("%w: duplicate schema id %q", ErrStructuralViolation, s.ID)
		}
		schemaIDs[s.ID] = true
	}

	memberIDs := make(map[string]bool, len(m.Members))
	for _, mem := range m.Members {
		if memberIDs[mem.ID] {
			return fmt.Errorf("%w: duplicate member id %q", ErrStructuralViolation, mem.ID)
		}
		memberIDs[mem.ID] = true
	}

	policyIDs := make(map[string]bool, len(m.Policies))
	for _, p := range m.Policies {
		if policyIDs[p.ID] {
			return fmt.Errorf("%w: duplicate policy id %q", ErrStructuralViolation, p.ID)
		}
		policyIDs[p.ID] = true
	}
	for id := range schemaIDs {
		if !policyIDs[id] {
			return fmt.Errorf("%w: schema %q has no matching policy", ErrStructuralViolation, id)
		}
	}
	for id := range policyIDs {
		if !schemaIDs[id] {
			return fmt.Errorf("%w: policy %q has no matching schema", ErrStructuralViolation, id)
		}
	}

	for _, r := range m.Roles {
		if r.Schema != "" && !schemaIDs[r.Schema] {
			return fmt.Errorf("%w: role binding references unknown schema %q", ErrStructuralViolation, r.Schema)
		}
		if r.Who == WhoID && !memberIDs[r.MemberID] {
			return fmt.Errorf("%w: role binding references unknown member %q", ErrStructuralViolation, r.MemberID)
		}
	}
	return nil
}

// SchemaByID returns the declared schema with the given id.
func (m *Model) SchemaByID(id string) (SchemaDef, error) {
	for _, s := range m.Schemas {
		if s.ID == id {
			return s, nil
		}
	}
	return SchemaDef{}, fmt.Errorf("%w: %q", ErrUnknownSchema, id)
}

// PolicyByID returns the declared policy with the given id (policy ids are
// schema ids, one policy per schema).
func (m *Model) PolicyByID(id string) (Policy, error) {
	for _, p := range m.Policies {
		if p.ID == id {
			return p, nil
		}
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, id)
}

// MemberKey returns a member's key identifier by member id.
func (m *Model) MemberKey(id string) (crypto.KeyIdentifier, bool) {
	for _, mem := range m.Members {
		if mem.ID == id {
			return mem.Key, true
		}
	}
	return crypto.KeyIdentifier{}, false
}

// isMember reports whether invokator names a listed member.
func (m *Model) isMember(invokator string) bool {
	for _, mem := range m.Members {
		if mem.ID == invokator {
			return true
		}
	}
	return false
}

// namespaceContains reports whether child is within (or equal to) parent,
// using "." as the namespace path separator.
func namespaceContains(parent, child string) bool {
	if parent == "" {
		return true
	}
	if parent == child {
		return true
	}
	return len(child) > len(parent) && child[:len(parent)+1] == parent+"."
}

// Signers resolves the set of key identifiers authorized to sign stage
// within namespace for the given schema. A node authorized to Approve
// must also Witness: the Witness stage's signer set is the union of its
// own role bindings and the Approve stage's, so a governance never has
// to mirror every approver as a separate explicit Witness binding.
func (m *Model) Signers(stage Stage, namespace, schemaID string) []crypto.KeyIdentifier {
	stages := []Stage{stage}
	if stage == StageWitness {
		stages = []Stage{StageWitness, StageApprove}
	}

	seen := make(map[string]bool)
	var out []crypto.KeyIdentifier
	for _, r := range m.Roles {
		if !containsStage(stages, r.Role) || r.Schema != schemaID || !namespaceContains(r.Namespace, namespace) {
			continue
		}
		for _, mem := range m.Members {
			if !r.Matches(mem.ID, true) {
				continue
			}
			if seen[mem.Key.String()] {
				continue
			}
			seen[mem.Key.String()] = true
			out = append(out, mem.Key)
		}
	}
	return out
}

func containsStage(stages []Stage, stage Stage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

// InvokatorRoles resolves every Stage invokator is authorized to exercise
// within namespace for schemaID.
func (m *Model) InvokatorRoles(invokator, namespace, schemaID string) []Stage {
	isMember := m.isMember(invokator)
	seen := make(map[Stage]bool)
	var out []Stage
	for _, r := range m.Roles {
		if r.Schema != schemaID || !namespaceContains(r.Namespace, namespace) {
			continue
		}
		if !r.Matches(invokator, isMember) {
			continue
		}
		if seen[r.Role] {
			continue
		}
		seen[r.Role] = true
		out = append(out, r.Role)
	}
	return out
}
