package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondError(resp, http.StatusUnauthorized, "unauthorized")

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"unauthorized"}`, resp.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Password string `json:"password"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"password":"123456"}`))
	require.NoError(t, DecodeJSON(req, &body))
	require.Equal(t, "123456", body.Password)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"password":"a"} {"x":1}`))
	require.Error(t, DecodeJSON(req, &body))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	require.Error(t, DecodeJSON(req, &body))
}
