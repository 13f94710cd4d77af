package schema

// GovernanceSchemaID is the reserved schema_id that always resolves to the
// built-in governance meta-schema, never to a governance-defined user
// schema.
const GovernanceSchemaID = "governance"

// GovernanceMetaSchema is the JSON-Schema every governance subject's
// genesis payload must validate against: members, roles, schemas and
// policies, with their quorum variants.
const GovernanceMetaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "governance",
  "type": "object",
  "required": ["members", "roles", "schemas", "policies"],
  "properties": {
    "members": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "key"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "key": {
            "type": "object",
            "required": ["scheme", "public"],
            "properties": {
              "scheme": {"enum": ["ed25519", "secp256k1"]},
              "public": {"type": "string"}
            }
          }
        }
      }
    },
    "roles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["who", "namespace", "role", "schema"],
        "properties": {
          "who": {"enum": ["ID", "MEMBERS", "ALL", "NOT_MEMBERS"]},
          "id": {"type": "string"},
          "namespace": {"type": "string"},
          "role": {"enum": ["Create", "Invoke", "Evaluate", "Approve", "Validate", "Witness", "Close"]},
          "schema": {"type": "string"}
        }
      }
    },
    "schemas": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "schema", "initial_value"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "schema": {"type": "object"},
          "initial_value": {},
          "contract": {}
        }
      }
    },
    "policies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "approve", "evaluate", "validate"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "approve": {"$ref": "#/$defs/quorum"},
          "evaluate": {"$ref": "#/$defs/quorum"},
          "validate": {"$ref": "#/$defs/quorum"}
        }
      }
    }
  },
  "$defs": {
    "quorum": {
      "oneOf": [
        {"const": "MAJORITY"},
        {
          "type": "object",
          "required": ["FIXED"],
          "properties": {"FIXED": {"type": "integer", "minimum": 1}}
        },
        {
          "type": "object",
          "required": ["PERCENTAGE"],
          "properties": {"PERCENTAGE": {"type": "number", "minimum": 0, "maximum": 1}}
        },
        {
          "type": "object",
          "required": ["BFT"],
          "properties": {"BFT": {"type": "number", "minimum": 0, "maximum": 1}}
        }
      ]
    }
  }
}`
