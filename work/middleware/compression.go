package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"iptv-curator/work/logger"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// Writers are pooled at their fastest level; API responses are small JSON.
var (
	gzipWriterPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
			return w
		},
	}
	brotliWriterPool = sync.Pool{
		New: func() any {
			return brotli.NewWriterLevel(io.Discard, brotli.BestSpeed)
		},
	}
)

// encoder is the part of gzip.Writer and brotli.Writer the middleware uses.
type encoder interface {
	io.WriteCloser
	Flush() error
}

// compressResponseWriter routes the body through an encoder while headers
// go to the original writer.
type compressResponseWriter struct {
	http.ResponseWriter
	enc         encoder
	wroteHeader bool
}

func (w *compressResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.enc.Write(b)
}

// Flush pushes the encoder buffer and then the underlying writer.
func (w *compressResponseWriter) Flush() {
	w.enc.Flush()
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// negotiate picks br over gzip from Accept-Encoding. q-values are ignored
// except for an explicit q=0.
func negotiate(header string) string {
	var gz, br bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			br = true
		case "gzip":
			gz = true
		}
	}
	switch {
	case br:
		return "br"
	case gz:
		return "gzip"
	}
	return ""
}

// Compression wraps a handler with brotli or gzip response compression,
// chosen from the request's Accept-Encoding. Other clients pass through.
func Compression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := negotiate(r.Header.Get("Accept-Encoding"))
		if encoding == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", encoding)
		w.Header().Add("Vary", "Accept-Encoding")

		var enc encoder
		switch encoding {
		case "br":
			bw := brotliWriterPool.Get().(*brotli.Writer)
			bw.Reset(w)
			defer brotliWriterPool.Put(bw)
			enc = bw
		default:
			gw := gzipWriterPool.Get().(*gzip.Writer)
			gw.Reset(w)
			defer gzipWriterPool.Put(gw)
			enc = gw
		}

		// Close runs before the writer goes back to its pool
		defer func() {
			if err := enc.Close(); err != nil {
				logger.Error("{middleware/compression - Compression} failed to close %s writer for: %s %s - %v", encoding, r.Method, r.URL.Path, err)
			}
		}()

		next.ServeHTTP(&compressResponseWriter{ResponseWriter: w, enc: enc}, r)
	})
}
