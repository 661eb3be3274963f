package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpec = `openapi: 3.0.3
info:
  title: Test
  version: "1.0"
paths:
  /scheduler/posts:
    get:
      responses:
        "200":
          description: ok
`

func newSwaggerRouter(t *testing.T) http.Handler {
	t.Helper()
	h, err := NewSwaggerHandler("Test API", []byte(testSpec))
	require.NoError(t, err)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestSwaggerHandler_JSON(t *testing.T) {
	rr := serve(newSwaggerRouter(t), httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/scheduler/posts")
}

func TestSwaggerHandler_YAMLAndUI(t *testing.T) {
	router := newSwaggerRouter(t)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, testSpec, rr.Body.String())

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Test API - API Documentation")
	assert.Contains(t, rr.Body.String(), "/docs/openapi.json")
}

func TestNewSwaggerHandler_InvalidSpec(t *testing.T) {
	_, err := NewSwaggerHandler("x", []byte("openapi: [unclosed"))
	assert.Error(t, err)
}
