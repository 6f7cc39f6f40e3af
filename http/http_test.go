package http

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeEncodesResult(t *testing.T) {
	get := func() (interface{}, error) {
		return map[string]int{"events_done": 42}, nil
	}

	w := httptest.NewRecorder()
	serve(w, get)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 42, out["events_done"])
}

func TestServeReportsErrors(t *testing.T) {
	w := httptest.NewRecorder()
	serve(w, func() (interface{}, error) { return nil, errors.New("scope offline") })

	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "scope offline")
}

func TestServeUnconfigured(t *testing.T) {
	w := httptest.NewRecorder()
	serve(w, nil)
	assert.Equal(t, 404, w.Code)
}
