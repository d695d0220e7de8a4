package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tracing"
)

// DefaultTimeout bounds a request when GuardConfig.Timeout is unset
const DefaultTimeout = 60 * time.Second

// ErrorObserver is told about every error response the guard writes
type ErrorObserver interface {
	ErrorWritten(info apperr.ExceptionInfo)
}

// GuardConfig configures Guard
type GuardConfig struct {
	Timeout    time.Duration
	Classifier *apperr.Classifier
	Logger     *logging.Logger
	Observer   ErrorObserver
	Now        func() time.Time
}

type guard struct {
	next       Handler
	timeout    time.Duration
	classifier *apperr.Classifier
	logger     *logging.Logger
	observer   ErrorObserver
	now        func() time.Time
}

// panicError carries a recovered panic out of the handler goroutine
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Guard runs next under a deadline and the client's cancellation signal and
// is the only place an error becomes a response:
//   - success: the handler's response is released unchanged
//   - deadline reached: 408 with the fixed timeout body
//   - client gone: nothing is written
//   - handler panics with http.ErrAbortHandler: the panic is re-raised
//   - any other error: the classified envelope
//
// The handler writes into a buffer, so nothing it writes after the deadline
// can reach the client.
func Guard(cfg GuardConfig, next Handler) http.Handler {
	g := &guard{
		next:       next,
		timeout:    cfg.Timeout,
		classifier: cfg.Classifier,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		now:        cfg.Now,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.classifier == nil {
		g.classifier = apperr.NewClassifier(nil)
	}
	if g.logger == nil {
		g.logger = logging.Discard()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	bw := newBufferedWriter()
	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = &panicError{value: p, stack: debug.Stack()}
			}
			done <- err
		}()
		err = g.next(bw, r.WithContext(ctx))
	}()

	select {
	case err := <-done:
		if err == nil {
			if ferr := bw.flushTo(w); ferr != nil {
				g.logger.Debug("Failed to write response", logging.Fields{
					"path": r.URL.Path, "method": r.Method, "error": ferr,
				})
			}
			return
		}
		bw.close()
		if p, ok := err.(*panicError); ok && p.value == http.ErrAbortHandler {
			g.logger.Debug("Handler aborted response", logging.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
			})
			// Re-raised on the serving goroutine so net/http drops the connection quietly
			panic(http.ErrAbortHandler)
		}
		if r.Context().Err() != nil {
			g.disconnected(r)
			return
		}
		g.writeError(w, r, err)
	case <-ctx.Done():
		bw.close()
		if r.Context().Err() != nil {
			g.disconnected(r)
			return
		}
		g.writeTimeout(w, r)
	}
}

func (g *guard) disconnected(r *http.Request) {
	g.logger.Debug("Client disconnected", logging.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
	})
}

func (g *guard) writeTimeout(w http.ResponseWriter, r *http.Request) {
	g.logger.Warn("Request timed out", logging.Fields{
		"path":    r.URL.Path,
		"method":  r.Method,
		"timeout": g.timeout.String(),
	})

	body, _ := json.Marshal(apperr.NewTimeoutEnvelope())
	writeJSON(w, http.StatusRequestTimeout, body)

	if g.observer != nil {
		g.observer.ErrorWritten(apperr.ExceptionInfo{
			StatusCode: http.StatusRequestTimeout,
			ErrorCode:  apperr.CodeTimeout,
			Message:    apperr.MessageTimeout,
			ErrorType:  apperr.TypeTimeout,
		})
	}
}

func (g *guard) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := g.classifier.Classify(err)
	if info.ErrorType == apperr.TypeTimeout {
		g.writeTimeout(w, r)
		return
	}

	fields := logging.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": info.StatusCode,
		"code":   info.ErrorCode,
		"type":   info.ErrorType,
		"error":  err.Error(),
	}
	if p, ok := err.(*panicError); ok {
		fields["stack"] = string(p.stack)
	}
	g.logger.Error("Request failed", fields)
	tracing.SetError(r.Context(), err)

	body, merr := json.Marshal(apperr.NewEnvelope(info, r.Method, r.URL.Path, g.now()))
	if merr != nil {
		info = apperr.Fallback()
		body, _ = json.Marshal(apperr.NewEnvelope(info, r.Method, r.URL.Path, g.now()))
	}
	writeJSON(w, info.StatusCode, body)

	if g.observer != nil {
		g.observer.ErrorWritten(info)
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
