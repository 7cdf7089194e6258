// Package redact scrubs sensitive-looking fields out of a JSON document
// before it is persisted to the interaction audit trail or broadcast to the
// live admin trace stream, so credentials accidentally echoed back by an
// upstream tool never leave process memory in plaintext.
package redact

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sensitiveKeys names the object keys whose values are scrubbed wherever
// they appear in a document, regardless of nesting depth.
var sensitiveKeys = []string{
	"password",
	"secret",
	"api_key",
	"apikey",
	"access_token",
	"authorization",
	"private_key",
}

const redactedPlaceholder = "[REDACTED]"

// JSON walks raw (a JSON-encoded document) and overwrites the value of every
// object key matching a known-sensitive name with a fixed placeholder,
// returning the rewritten document. Malformed input is returned unchanged.
func JSON(raw []byte) []byte {
	if !gjson.ValidBytes(raw) {
		return raw
	}

	out := raw
	walkPaths(gjson.ParseBytes(raw), "", func(path string, key string) {
		if !isSensitiveKey(key) {
			return
		}
		rewritten, err := sjson.SetBytes(out, path, redactedPlaceholder)
		if err != nil {
			return
		}
		out = rewritten
	})
	return out
}

// Map redacts a decoded document in place, round-tripping it through JSON
// marshal/unmarshal. Used by callers that hold a map[string]interface{}
// envelope rather than raw bytes (the interaction persistence layer).
func Map(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	redacted := JSON(raw)
	var out map[string]interface{}
	if err := json.Unmarshal(redacted, &out); err != nil {
		return m
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if lower == k {
			return true
		}
	}
	return false
}

// walkPaths visits every scalar field reachable from result (an object or
// array), invoking fn with its sjson set-path and its own key name. Array
// elements are recursed into but never passed to fn directly — only a
// named object field can match a sensitive key.
func walkPaths(result gjson.Result, prefix string, fn func(path, key string)) {
	parentIsArray := result.IsArray()
	result.ForEach(func(key, value gjson.Result) bool {
		segment := key.String()
		if !parentIsArray {
			segment = escapeKey(segment)
		}
		path := segment
		if prefix != "" {
			path = prefix + "." + segment
		}

		if value.IsObject() || value.IsArray() {
			walkPaths(value, path, fn)
			return true
		}

		if !parentIsArray {
			fn(path, segment)
		}
		return true
	})
}

// escapeKey escapes a gjson/sjson path separator that appears literally
// inside a JSON object key, so a key like "a.b" does not get misread as two
// path segments.
func escapeKey(key string) string {
	return strings.ReplaceAll(key, ".", "\\.")
}
