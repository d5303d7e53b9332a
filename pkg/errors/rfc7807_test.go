package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	notFound := NewWithKind(KindNotFound)
	err := fmt.Errorf("loading vault: %w", notFound.Explain("vault %s not found", "v-1"))

	assert.True(t, Is(err, notFound))
	assert.False(t, Is(err, NewWithKind(KindValidation)))
	assert.Contains(t, err.Error(), "vault v-1 not found")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewWithKind(KindUnsupportedChain)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewWithKind(KindValidation)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("x: %w", NewWithKind(KindNotFound))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}

func TestNewProblem(t *testing.T) {
	err := NewWithKind(KindValidation).Explain("bad config").WithField("monitor.check_interval", "must be positive")
	p := NewProblem(err, "/api/v1/risk/vaults")

	assert.Equal(t, TypeValidationError, p.Type)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	require.Len(t, p.Errors, 1)

	raw, mErr := json.Marshal(p.WithExtra("request_id", "abc"))
	require.NoError(t, mErr)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "abc", decoded["request_id"])
	assert.Equal(t, float64(400), decoded["status"])

	internal := NewProblem(fmt.Errorf("db password leaked in message"), "/x")
	assert.Equal(t, "internal server error", internal.Detail)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrap: %w", NewWithKind(KindNotFound))))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
}

func TestErrorString(t *testing.T) {
	err := NewWithKind(KindValidation).Explain("bad rule").WithField("cooldown", "must be >= 0").Wrap(fmt.Errorf("parse"))
	assert.Equal(t, "[Validation] bad rule; cooldown: must be >= 0 (parse)", err.Error())
}

func TestProblemExtraDoesNotOverrideStandardMembers(t *testing.T) {
	p := NewProblem(NewWithKind(KindNotFound).Explain("gone"), "/x").WithExtra("status", 999).WithExtra("trace_id", "t1")
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(404), decoded["status"])
	assert.Equal(t, "t1", decoded["trace_id"])
	assert.Equal(t, TypeNotFound, decoded["type"])
}
