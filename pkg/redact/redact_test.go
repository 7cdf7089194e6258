package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestJSON_RedactsTopLevelSensitiveField(t *testing.T) {
	in := []byte(`{"username":"alice","password":"hunter2"}`)
	out := JSON(in)

	assert.Equal(t, "alice", gjson.GetBytes(out, "username").String())
	assert.Equal(t, redactedPlaceholder, gjson.GetBytes(out, "password").String())
}

func TestJSON_RedactsNestedAndArrayFields(t *testing.T) {
	in := []byte(`{"auth":{"api_key":"sk-live-abc"},"users":[{"name":"bob","secret":"xyz"}]}`)
	out := JSON(in)

	assert.Equal(t, redactedPlaceholder, gjson.GetBytes(out, "auth.api_key").String())
	assert.Equal(t, "bob", gjson.GetBytes(out, "users.0.name").String())
	assert.Equal(t, redactedPlaceholder, gjson.GetBytes(out, "users.0.secret").String())
}

func TestJSON_LeavesNonSensitiveFieldsAlone(t *testing.T) {
	in := []byte(`{"model":"claude-3-5-haiku-latest","max_tokens":256}`)
	out := JSON(in)
	assert.JSONEq(t, string(in), string(out))
}

func TestJSON_InvalidInputReturnedUnchanged(t *testing.T) {
	in := []byte("not json")
	assert.Equal(t, in, JSON(in))
}

func TestMap_RedactsAndRoundTrips(t *testing.T) {
	in := map[string]interface{}{
		"model":         "gpt-4o",
		"authorization": "Bearer abc123",
	}
	out := Map(in)
	assert.Equal(t, "gpt-4o", out["model"])
	assert.Equal(t, redactedPlaceholder, out["authorization"])
}

func TestMap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Map(nil))
}
