package httpapi

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const writeEnvelopeSchemaURL = "https://attendsync.local/schemas/write-envelope.json"

const writeEnvelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"action": {"const": "SET_SESSION"}}},
      "then": {"required": ["payload"], "properties": {"payload": {"$ref": "#/$defs/session"}}}
    },
    {
      "if": {"properties": {"action": {"const": "ADD_RECORD"}}},
      "then": {"required": ["payload"], "properties": {"payload": {"$ref": "#/$defs/record"}}}
    },
    {
      "if": {"properties": {"action": {"const": "DELETE_RECORD"}}},
      "then": {"required": ["payload"], "properties": {"payload": {"type": "string"}}}
    }
  ],
  "$defs": {
    "session": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"}
      }
    },
    "record": {
      "type": "object",
      "required": ["id", "studentName", "studentId", "timestamp", "day", "sessionId", "sessionName"],
      "properties": {
        "id": {"type": "string"},
        "studentName": {"type": "string"},
        "studentId": {"type": "string"},
        "timestamp": {"type": "string"},
        "day": {"type": "string"},
        "sessionId": {"type": "string"},
        "sessionName": {"type": "string"}
      }
    }
  }
}`

func compileWriteEnvelopeSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(writeEnvelopeSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(writeEnvelopeSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(writeEnvelopeSchemaURL)
}

// mustWriteEnvelopeSchema panics on a broken embedded schema; it is a build-time constant.
func mustWriteEnvelopeSchema() *jsonschema.Schema {
	schema, err := compileWriteEnvelopeSchema()
	if err != nil {
		panic("httpapi: compile write envelope schema: " + err.Error())
	}
	return schema
}
