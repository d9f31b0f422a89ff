package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusCreated, map[string]string{"domain": "mail.example.com"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"domain":"mail.example.com"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadGateway, "acme tool exited 1")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"acme tool exited 1"}`, w.Body.String())
}

func TestWriteList(t *testing.T) {
	w := httptest.NewRecorder()

	WriteList(w, http.StatusOK, []string{"a", "b"})

	var body ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []any{"a", "b"}, body.Items)
}

func TestWriteList_NilSliceIsEmptyItems(t *testing.T) {
	w := httptest.NewRecorder()

	WriteList[string](w, http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())
}
