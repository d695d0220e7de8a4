package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/api"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/auth"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/middleware"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/store"
)

type testServer struct {
	router   *mux.Router
	store    store.Store
	staff    string
	customer string
	other    string
}

func newTestServer(t *testing.T, s store.Store) *testServer {
	t.Helper()
	ks := auth.NewKeyStore(bcrypt.MinCost)
	staff, err := ks.Issue("pizzeria", models.RoleStaff)
	require.NoError(t, err)
	customer, err := ks.Issue("pizzeria", models.RoleCustomer)
	require.NoError(t, err)
	other, err := ks.Issue("sushi-bar", models.RoleStaff)
	require.NoError(t, err)

	authn := middleware.Authenticate(ks, "/health")
	wrap := func(h middleware.Handler) http.Handler {
		return middleware.Guard(middleware.GuardConfig{Timeout: 5 * time.Second}, middleware.Chain(h, authn))
	}

	router := mux.NewRouter()
	api.NewOrderHandler(s).RegisterRoutes(router, wrap)
	return &testServer{router: router, store: s, staff: staff, customer: customer, other: other}
}

func (ts *testServer) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env apperr.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error.Code
}

const orderBody = `{"customer_name":"Ada","items":[{"menu_item_id":"m1","name":"Margherita","quantity":2,"price_cents":950}]}`

func createOrder(t *testing.T, ts *testServer) models.Order {
	t.Helper()
	w := ts.do(t, "POST", "/orders", ts.customer, orderBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var o models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	o := createOrder(t, ts)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "pizzeria", o.TenantID)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, o.PaymentStatus)
	assert.Equal(t, int64(1900), o.TotalCents)
}

func TestCreateOrder_Validation(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	w := ts.do(t, "POST", "/orders", ts.customer, `{"customer_name":"","items":[{"name":"Cola","quantity":0,"price_cents":-1}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var env struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Violations []apperr.FieldViolation `json:"violations"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, apperr.CodeValidation, env.Error.Code)

	fields := make([]string, 0)
	for _, v := range env.Error.Details.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"customer_name", "items[0].quantity", "items[0].price_cents"}, fields)

	w = ts.do(t, "POST", "/orders", ts.customer, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	w := ts.do(t, "GET", "/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.CodeUnauthorized, errorCode(t, w))

	w = ts.do(t, "GET", "/orders", "bogus.token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetOrder_TenantScoped(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	o := createOrder(t, ts)

	w := ts.do(t, "GET", "/orders/"+o.ID, ts.staff, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/orders/"+o.ID, ts.other, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.RuleOrderNotFound, errorCode(t, w))
}

func TestConfirmPayment(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	o := createOrder(t, ts)

	w := ts.do(t, "POST", "/orders/"+o.ID+"/confirm-payment", ts.customer, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", "/orders/"+o.ID+"/confirm-payment", ts.staff, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var confirmed models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, models.PaymentStatusPaid, confirmed.PaymentStatus)

	w = ts.do(t, "POST", "/orders/"+o.ID+"/confirm-payment", ts.staff, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.RuleOrderNotPending, errorCode(t, w))

	w = ts.do(t, "POST", "/orders/"+o.ID+"/cancel", ts.customer, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmPayment_AfterReclaim(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	o := createOrder(t, ts)

	deleted, err := ts.store.DeleteStalePendingOrders(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{o.ID}, deleted)

	w := ts.do(t, "POST", "/orders/"+o.ID+"/confirm-payment", ts.staff, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.RuleOrderNotFound, errorCode(t, w))
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	o := createOrder(t, ts)

	w := ts.do(t, "POST", "/orders/"+o.ID+"/cancel", ts.customer, "")
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestListOrders(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	for i := 0; i < 3; i++ {
		createOrder(t, ts)
	}

	w := ts.do(t, "GET", "/orders?page=1&page_size=2", ts.staff, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res store.PagedResult[models.Order]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Items, 2)

	w = ts.do(t, "GET", "/orders", ts.other, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 0, res.Total)

	for _, q := range []string{"page=0", "page=x", "page_size=500"} {
		w = ts.do(t, "GET", "/orders?"+q, ts.staff, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, apperr.RuleInvalidPagination, errorCode(t, w), q)
	}
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	w := ts.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

type brokenStore struct {
	store.Store
}

func (brokenStore) GetOrder(ctx context.Context, tenantID, id string) (*models.Order, error) {
	return nil, errors.New("disk I/O error at /var/lib/orders.db")
}

func TestStoreFailureIsOpaque(t *testing.T) {
	ts := newTestServer(t, brokenStore{Store: store.NewMemoryStore()})

	w := ts.do(t, "GET", "/orders/abc", ts.staff, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperr.CodeInternal, errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "/var/lib")
}

func TestUnmatchedRoutesAreEnveloped(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())

	tests := []struct {
		name       string
		method     string
		target     string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"unknown path", "GET", "/menu", ts.staff, http.StatusNotFound, apperr.RuleRouteNotFound},
		{"wrong method", "DELETE", "/orders", ts.staff, http.StatusMethodNotAllowed, apperr.RuleMethodNotAllowed},
		{"unknown path without token", "GET", "/menu", "", http.StatusUnauthorized, apperr.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, tt.token, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}
