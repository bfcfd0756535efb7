package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = `{"channels":[{"id":"ch1_abc","name":"World News"}]}`

func serve(acceptEncoding string) *httptest.ResponseRecorder {
	h := Compression(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, body)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompressionGzip(t *testing.T) {
	rec := serve("gzip, deflate")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestCompressionPrefersBrotli(t *testing.T) {
	rec := serve("gzip, br")
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))

	got, err := io.ReadAll(brotli.NewReader(rec.Body))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestCompressionPassThrough(t *testing.T) {
	for _, accept := range []string{"", "identity", "br;q=0, gzip; q=0"} {
		rec := serve(accept)
		assert.Empty(t, rec.Header().Get("Content-Encoding"), accept)
		assert.Equal(t, body, rec.Body.String(), accept)
	}
}

func TestNegotiate(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"gzip":              "gzip",
		"GZIP, BR":          "br",
		"br;q=0, gzip":      "gzip",
		"deflate, identity": "",
	}
	for header, want := range tests {
		assert.Equal(t, want, negotiate(header), header)
	}
}
