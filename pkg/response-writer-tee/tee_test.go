package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaverRecordsResponse(t *testing.T) {
	rs := NewResponseSaver()
	rs.Header().Set("Content-Type", "text/css")
	rs.WriteHeader(http.StatusCreated)
	rs.Write([]byte("body{}"))

	req := httptest.NewRequest(http.MethodGet, "/main.css", nil)
	res := rs.HTTPResponse(req)

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "text/css", res.Header.Get("Content-Type"))
	assert.Equal(t, int64(6), res.ContentLength)
	assert.Same(t, req, res.Request)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(body))
}

func TestSaverImplicitOK(t *testing.T) {
	rs := NewResponseSaver()
	assert.Equal(t, http.StatusOK, rs.StatusCode())
	rs.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rs.StatusCode())
}

func TestSaverKeepsFirstStatus(t *testing.T) {
	rs := NewResponseSaver()
	rs.WriteHeader(http.StatusNotModified)
	rs.WriteHeader(http.StatusOK)
	rs.Write([]byte("ignored status"))

	assert.Equal(t, http.StatusNotModified, rs.StatusCode())
	assert.Equal(t, "ignored status", string(rs.Body()))
}
