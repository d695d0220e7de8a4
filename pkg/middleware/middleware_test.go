package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tenancy"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(w http.ResponseWriter, r *http.Request) error {
				order = append(order, name)
				return next(w, r)
			}
		}
	}

	h := Chain(func(w http.ResponseWriter, r *http.Request) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	require.NoError(t, h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStack_Order(t *testing.T) {
	var order []string
	wrap := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), wrap("a"), wrap("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

type fakeAuthenticator map[string]models.Principal

func (f fakeAuthenticator) Authenticate(token string) (models.Principal, error) {
	p, ok := f[token]
	if !ok {
		return models.Principal{}, errors.New("invalid token")
	}
	return p, nil
}

func TestAuthenticate(t *testing.T) {
	auth := fakeAuthenticator{"good": {KeyID: "k1", TenantID: "t1", Role: models.RoleStaff}}

	var seen models.Principal
	h := Chain(func(w http.ResponseWriter, r *http.Request) error {
		p, err := tenancy.PrincipalFrom(r.Context())
		seen = p
		return err
	}, Authenticate(auth, "/health"))

	tests := []struct {
		name   string
		path   string
		header string
		cat    apperr.Category
		ok     bool
	}{
		{"valid token", "/orders", "Bearer good", 0, true},
		{"missing header", "/orders", "", apperr.CategoryUnauthorized, false},
		{"wrong scheme", "/orders", "Basic good", apperr.CategoryUnauthorized, false},
		{"unknown token", "/orders", "Bearer bad", apperr.CategoryUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			err := h(httptest.NewRecorder(), req)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "t1", seen.TenantID)
				return
			}
			var ae *apperr.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.cat, ae.Category)
		})
	}

	// public paths run without a principal
	err := h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.ErrorIs(t, err, tenancy.ErrNoPrincipal)
}

func TestRequireRole(t *testing.T) {
	h := Chain(func(w http.ResponseWriter, r *http.Request) error { return nil }, RequireRole(models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var ae *apperr.Error
	err := h(httptest.NewRecorder(), req)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CategoryUnauthorized, ae.Category)

	staff := req.WithContext(tenancy.WithPrincipal(req.Context(), models.Principal{TenantID: "t1", Role: models.RoleStaff}))
	err = h(httptest.NewRecorder(), staff)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.RuleForbidden, ae.Code)
	assert.Equal(t, http.StatusForbidden, apperr.NewClassifier(nil).Classify(err).StatusCode)

	admin := req.WithContext(tenancy.WithPrincipal(req.Context(), models.Principal{TenantID: "t1", Role: models.RoleAdmin}))
	assert.NoError(t, h(httptest.NewRecorder(), admin))
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&buf)

	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	id := rec.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	out := buf.String()
	assert.Contains(t, out, "request_id="+id)
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=15")
	assert.True(t, strings.Contains(out, "[http]"))

	// an incoming request ID is propagated
	req := httptest.NewRequest(http.MethodGet, "/pot", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}
