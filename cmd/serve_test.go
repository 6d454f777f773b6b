package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeHandler_Health(t *testing.T) {
	h := newServeHandler(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServeHandler_ServesArtifact(t *testing.T) {
	dir := t.TempDir()
	payload := `[{"trial_id":"zhang2021"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trials_curated.json"), []byte(payload), 0o644))

	h := newServeHandler(dir)

	req := httptest.NewRequest(http.MethodGet, "/data/trials_curated.json", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "zhang2021")
}

func TestServeHandler_MissingArtifact(t *testing.T) {
	h := newServeHandler(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/data/absent.json", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeHandler_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trials_curated.json"), []byte("[]"), 0o644))

	h := newServeHandler(dir)

	req := httptest.NewRequest(http.MethodPost, "/data/trials_curated.json", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServeHandler_CORSPreflight(t *testing.T) {
	h := newServeHandler(t.TempDir())

	req := httptest.NewRequest(http.MethodOptions, "/data/trials_curated.json", nil)
	req.Header.Set("Origin", "http://localhost:4173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
