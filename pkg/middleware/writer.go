package middleware

import (
	"bytes"
	"net/http"
	"sync"
)

// bufferedWriter holds a handler's response until the guard decides to
// release it. Once closed, further writes fail with http.ErrHandlerTimeout.
type bufferedWriter struct {
	mu          sync.Mutex
	header      http.Header
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	closed      bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.wroteHeader {
		return
	}
	b.code = code
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, http.ErrHandlerTimeout
	}
	if !b.wroteHeader {
		b.code = http.StatusOK
		b.wroteHeader = true
	}
	return b.buf.Write(p)
}

// close stops accepting writes and discards what was buffered
func (b *bufferedWriter) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.buf.Reset()
}

// flushTo copies the buffered response to w and closes the buffer
func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true

	dst := w.Header()
	for k, vv := range b.header {
		dst[k] = vv
	}
	code := b.code
	if !b.wroteHeader {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_, err := w.Write(b.buf.Bytes())
	return err
}

// statusRecorder captures the status code and size written through it
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}
