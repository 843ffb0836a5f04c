package store

import (
	"github.com/xeipuuv/gojsonschema"
)

// JSON schemas for persisted records. Schema validation runs before
// unmarshalling so a truncated or hand-edited record surfaces as ErrCorrupt
// instead of a zero-valued struct.

const messageSchema = `{
	"type": "object",
	"required": ["role", "content", "tokens", "seq", "timestamp"],
	"properties": {
		"role":      {"type": "string", "enum": ["user", "assistant", "system", "tool"]},
		"content":   {"type": "string"},
		"tokens":    {"type": "integer", "minimum": 0},
		"seq":       {"type": "integer", "minimum": 1},
		"timestamp": {"type": "string"}
	}
}`

const sessionSchema = `{
	"type": "object",
	"required": ["session_id", "messages", "last_seq", "active_tokens", "total_tokens", "created_at", "updated_at", "content_hash"],
	"properties": {
		"session_id":    {"type": "string", "minLength": 1},
		"messages":      {"type": "array", "items": ` + messageSchema + `},
		"last_seq":      {"type": "integer", "minimum": 0},
		"active_tokens": {"type": "integer", "minimum": 0},
		"total_tokens":  {"type": "integer", "minimum": 0},
		"archive_ids":   {"type": ["array", "null"], "items": {"type": "string"}},
		"created_at":    {"type": "string"},
		"updated_at":    {"type": "string"},
		"content_hash":  {"type": "string", "minLength": 1}
	}
}`

const archiveSchema = `{
	"type": "object",
	"required": ["archive_id", "session_id", "messages", "summary", "summary_tokens", "original_tokens", "created_at", "content_hash"],
	"properties": {
		"archive_id":      {"type": "string", "minLength": 1},
		"session_id":      {"type": "string", "minLength": 1},
		"messages":        {"type": "array", "minItems": 1, "items": ` + messageSchema + `},
		"summary":         {"type": "string"},
		"summary_tokens":  {"type": "integer", "minimum": 0},
		"original_tokens": {"type": "integer", "minimum": 0},
		"keywords":        {"type": ["array", "null"], "items": {"type": "string"}},
		"created_at":      {"type": "string"},
		"content_hash":    {"type": "string", "minLength": 1}
	}
}`

var (
	sessionSchemaLoader = gojsonschema.NewStringLoader(sessionSchema)
	archiveSchemaLoader = gojsonschema.NewStringLoader(archiveSchema)
)

// validateRecord checks raw record bytes against a schema.
func validateRecord(schema gojsonschema.JSONLoader, raw []byte) (bool, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false, err
	}
	return result.Valid(), nil
}
