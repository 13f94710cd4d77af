package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/governance"
	"github.com/opencanarias-go/subjectchain/schema"
	"github.com/opencanarias-go/subjectchain/subject"
)

// PrepareGenesis validates create against its governing schema and returns
// the EventContent an owner must sign to complete genesis, split into
// "prepare" (validate, compute state_hash) and "commit" (Genesis) so the
// caller can hold the signing key outside the engine.
func (e *Engine) PrepareGenesis(create subject.CreateRequest) (subject.EventContent, error) {
	governanceVersion := uint64(0)
	properties := create.Payload

	if create.GovernanceID.IsEmpty() {
		if len(create.Payload) == 0 {
			return subject.EventContent{}, fmt.Errorf("ledger: governance genesis payload must not be empty")
		}
		if err := e.validateAgainstGovernanceSchema(create.Payload); err != nil {
			return subject.EventContent{}, err
		}
	} else {
		current, err := e.CurrentVersion(create.GovernanceID.String())
		if err != nil {
			return subject.EventContent{}, fmt.Errorf("ledger: resolving governing subject: %w", err)
		}
		governanceVersion = current

		meta := governance.Metadata{
			GovernanceID:      create.GovernanceID.String(),
			GovernanceVersion: governanceVersion,
			Namespace:         create.Namespace,
			SchemaID:          create.SchemaID,
		}
		schemaDef, err := e.interpreter.GetSchema(meta)
		if err != nil {
			return subject.EventContent{}, err
		}
		if len(properties) == 0 {
			properties = schemaDef.InitialValue
		}
		if err := e.validateUserSchema(create.SchemaID, governanceVersion, schemaDef.Schema, properties); err != nil {
			return subject.EventContent{}, err
		}
	}

	stateHash, err := subject.GenesisStateHash(properties)
	if err != nil {
		return subject.EventContent{}, err
	}

	return subject.EventContent{
		SN:                0,
		GovernanceVersion: governanceVersion,
		EventRequest:      subject.NewCreateRequest(create),
		Approved:          true,
		StateHash:         stateHash,
		Timestamp:         time.Now().UTC(),
	}, nil
}

func (e *Engine) validateAgainstGovernanceSchema(payload json.RawMessage) error {
	compiled, ok := e.schemas.Lookup(schema.GovernanceSchemaID)
	if !ok {
		var err error
		compiled, err = e.schemas.Compile(schema.GovernanceSchemaID, []byte(schema.GovernanceMetaSchema))
		if err != nil {
			return err
		}
	}
	if err := compiled.ValidateJSON(payload); err != nil {
		return err
	}
	if _, err := governance.ParseModel(payload); err != nil {
		return err
	}
	return nil
}

func (e *Engine) validateUserSchema(schemaID string, governanceVersion uint64, schemaDoc json.RawMessage, payload json.RawMessage) error {
	cacheKey := fmt.Sprintf("%s@%d", schemaID, governanceVersion)
	compiled, ok := e.schemas.Lookup(cacheKey)
	if !ok {
		var err error
		compiled, err = e.schemas.Compile(cacheKey, schemaDoc)
		if err != nil {
			return err
		}
	}
	return compiled.ValidateJSON(payload)
}

// Genesis admits a fully signed genesis event, creating a brand-new
// subject this node owns (owned when subjectKey is non-nil).
func (e *Engine) Genesis(event subject.Event, owner crypto.KeyIdentifier, subjectPublicKey crypto.KeyIdentifier, subjectKey *crypto.PrivateKey) (*subject.Subject, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var initialState json.RawMessage
	if !event.Content.EventRequest.Create.GovernanceID.IsEmpty() {
		current, err := e.CurrentVersion(event.Content.EventRequest.Create.GovernanceID.String())
		if err == nil {
			meta := governance.Metadata{
				GovernanceID:      event.Content.EventRequest.Create.GovernanceID.String(),
				GovernanceVersion: current,
				Namespace:         event.Content.EventRequest.Create.Namespace,
				SchemaID:          event.Content.EventRequest.Create.SchemaID,
			}
			initialState, _ = e.interpreter.GetInitialState(meta)
		}
	}

	s, err := subject.FromGenesis(event, owner, subjectPublicKey, initialState)
	if err != nil {
		admittedTotal.WithLabelValues("genesis_rejected").Inc()
		return nil, err
	}
	s.Keys = subjectKey

	if has, _ := e.subjects.Has(s.SubjectID.String()); has {
		admittedTotal.WithLabelValues("genesis_duplicate").Inc()
		return nil, ErrSubjectAlreadyExists
	}

	if err := e.eventsCol.Put(eventKey(s.SubjectID, 0), event); err != nil {
		return nil, err
	}
	if err := e.subjects.Put(s.SubjectID.String(), *s); err != nil {
		return nil, err
	}

	admittedTotal.WithLabelValues("genesis").Inc()
	e.notifier.Emit(events.EventCommitted{SubjectID: s.SubjectID.String(), SN: 0})
	return s, nil
}
