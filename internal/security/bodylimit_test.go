package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func limited(max int64, captured *string) http.Handler {
	return BodyLimit{Max: max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		*captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBodyLimitPassesSmallBodies(t *testing.T) {
	var captured string
	rr := httptest.NewRecorder()
	limited(32, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/track", strings.NewReader(`{"trackingNumber":"X"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, `{"trackingNumber":"X"}`, captured)
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	var captured string
	rr := httptest.NewRecorder()
	limited(5, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("excessive")))

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Empty(t, captured)
	var body struct {
		Error struct {
			Code    string           `json:"code"`
			Details map[string]int64 `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "PAYLOAD_TOO_LARGE", body.Error.Code)
	require.Equal(t, int64(5), body.Error.Details["maxBytes"])
}

func TestBodyLimitRejectsChunkedOverflow(t *testing.T) {
	var captured string
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("excessive"))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	limited(5, &captured).ServeHTTP(rr, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Empty(t, captured)
}

func TestBodyLimitDisabled(t *testing.T) {
	var captured string
	rr := httptest.NewRecorder()
	limited(0, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("anything goes")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "anything goes", captured)
}
