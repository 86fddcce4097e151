package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestLogRequestPassesResponseThrough(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusNoContent)
	})

	responseRecorder := httptest.NewRecorder()
	handler(responseRecorder, httptest.NewRequest("GET", "/ok", nil), nil)

	require.Equal(t, http.StatusNoContent, responseRecorder.Code)
}

func TestLogRequestRecoversFromPanics(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("handler exploded")
	})

	responseRecorder := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler(responseRecorder, httptest.NewRequest("GET", "/api/videos", nil), nil)
	})

	require.Equal(t, http.StatusInternalServerError, responseRecorder.Code)
	require.JSONEq(t, `{"error": "Internal Server Error", "error_detail": ""}`, responseRecorder.Body.String())
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	wrapped := wrapResponseWriter(httptest.NewRecorder())
	wrapped.WriteHeader(http.StatusBadRequest)
	wrapped.WriteHeader(http.StatusOK)

	require.Equal(t, http.StatusBadRequest, wrapped.status)
}
