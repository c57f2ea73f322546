package errors

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := middleware.RequestID(hlog.NewHandler(logger)(h))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec, buf.String()
}

func TestInternalErrorHidesCause(t *testing.T) {
	rec, logged := serve(t, func(w http.ResponseWriter, r *http.Request) {
		InternalError(w, r, errors.New("db exploded"), "load reviews")
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db exploded")
	assert.Contains(t, logged, `"error":"db exploded"`)
	assert.Contains(t, logged, `"request_id"`)
	assert.Contains(t, logged, `"level":"error"`)
}

func TestBadRequestErrorShowsClientMessage(t *testing.T) {
	rec, logged := serve(t, func(w http.ResponseWriter, r *http.Request) {
		BadRequestError(w, r, errors.New("parse"), "invalid form")
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid form")
	assert.Contains(t, logged, `"level":"warn"`)
}

func TestBadGatewayError(t *testing.T) {
	rec, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		BadGatewayError(w, r, errors.New("timeout"), "list reviews")
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLoggingWithoutRequestLogger(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	LogError(req, "no logger attached", errors.New("x"))
	LogInfo(req, "still fine")
}
