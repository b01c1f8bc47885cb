package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/dispatch"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/example/ec-ordering/internal/outbox"
	"github.com/example/ec-ordering/internal/projection"
	"github.com/example/ec-ordering/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	srv *Server
	db  *store.MemoryDatabase
	bus *messaging.Bus
}

// newTestEnv wires the whole pipeline in process: command handler, outbox
// relay, publisher, bus and projector feeding the view store.
func newTestEnv(t *testing.T, jwtService *auth.JWTService) *testEnv {
	t.Helper()
	log := zap.NewNop()

	db := store.NewMemoryDatabase()
	views := store.NewMemoryViewStore()
	bus := messaging.NewBus()

	projector := projection.NewProjector(projection.NewOrderApplier(views), log)
	for _, wt := range messaging.WireTypes() {
		bus.Subscribe(wt, projector.HandleMessage)
	}

	relay := outbox.NewRelay(db, messaging.NewPublisher(bus, messaging.DefaultSource, log), outbox.Config{}, log)
	d := dispatch.New(log)
	d.SubscribeAll(dispatch.HandlerFunc(relay.Handle))

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	srv := NewServer(Deps{
		Commands: command.NewHandler(db, d, log),
		Queries:  query.NewHandler(views),
		JWT:      jwtService,
		Gatherer: reg,
		Log:      log,
	})
	return &testEnv{srv: srv, db: db, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func orderBody(customerID string, qty int) map[string]any {
	addr := map[string]any{
		"first_name":    "Ada",
		"last_name":     "Lovelace",
		"email_address": "ada@example.com",
		"address_line":  "12 Analytical Row",
		"country":       "UK",
		"state":         "London",
		"zip_code":      "N1 9GU",
	}
	return map[string]any{
		"customer_id":      customerID,
		"order_name":       "Birthday gifts",
		"shipping_address": addr,
		"billing_address":  addr,
		"payment": map[string]any{
			"card_name":      "Ada Lovelace",
			"card_number":    "4111111111111111",
			"expiration":     "12/30",
			"cvv":            "123",
			"payment_method": 1,
		},
		"items": []map[string]any{
			{"product_id": "prod-1", "quantity": qty, "price": "15"},
		},
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("customer-1", 2), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `W/"0"`, rec.Header().Get("ETag"))
	created := decode(t, rec)
	id := created["id"].(string)
	assert.Equal(t, "/api/v1/orders/"+id, rec.Header().Get("Location"))
	assert.Equal(t, "30", created["total_price"])
	assert.Equal(t, "1111", created["payment"].(map[string]any)["card_last4"])
	assert.NotContains(t, rec.Body.String(), "4111111111111111")

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `W/"0"`, rec.Header().Get("ETag"))

	rec = env.do(t, http.MethodPut, "/api/v1/orders/"+id, orderBody("customer-1", 3), map[string]string{"If-Match": `W/"0"`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `W/"1"`, rec.Header().Get("ETag"))

	rec = env.do(t, http.MethodPut, "/api/v1/orders/"+id, orderBody("customer-1", 4), map[string]string{"If-Match": `W/"0"`})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `W/"1"`, rec.Header().Get("ETag"))
	assert.Equal(t, "45", decode(t, rec)["total_price"])

	rec = env.do(t, http.MethodDelete, "/api/v1/orders/"+id, nil, map[string]string{"If-Match": `W/"1"`})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 3)

	// Every row was marked by the in-process publish.
	for _, e := range env.db.OutboxEntries() {
		assert.True(t, e.IsDispatched, e.EventType)
	}
	assert.Empty(t, env.bus.DeadLetters())
}

func TestCreateOrder_Invalid(t *testing.T) {
	env := newTestEnv(t, nil)

	body := orderBody("customer-1", 2)
	body["items"] = []map[string]any{}
	rec := env.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateOrder_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("customer-1", 2), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)

	tests := []struct {
		name    string
		path    string
		ifMatch string
		want    int
	}{
		{"missing if-match", "/api/v1/orders/" + id, "", http.StatusPreconditionFailed},
		{"malformed if-match", "/api/v1/orders/" + id, `W/"x"`, http.StatusPreconditionFailed},
		{"unknown order", "/api/v1/orders/01ARZ3NDEKTSV4RRFFQ69G5FAV", `W/"0"`, http.StatusNotFound},
		{"malformed id", "/api/v1/orders/nope", `W/"0"`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.ifMatch != "" {
				headers["If-Match"] = tt.ifMatch
			}
			rec := env.do(t, http.MethodPut, tt.path, orderBody("customer-1", 5), headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListOrdersByCustomer(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/orders", orderBody("customer-1", 1), nil).Code)
	}
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/orders", orderBody("customer-2", 1), nil).Code)

	rec := env.do(t, http.MethodGet, "/api/v1/customers/customer-1/orders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 2)

	rec = env.do(t, http.MethodGet, "/api/v1/customers/nobody/orders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["items"])
}

func TestAuthenticatedCustomer(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", "eshop", time.Minute)
	env := newTestEnv(t, jwtService)
	alice, _, err := jwtService.GenerateAccessToken("alice", auth.RoleCustomer)
	require.NoError(t, err)
	bob, _, err := jwtService.GenerateAccessToken("bob", auth.RoleCustomer)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("customer-1", 1), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", orderBody("someone-else", 1),
		map[string]string{"Authorization": "Bearer " + alice})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	assert.Equal(t, "alice", created["customer_id"])
	id := created["id"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, map[string]string{"Authorization": "Bearer " + alice})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, map[string]string{"Authorization": "Bearer " + bob})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/customers/alice/orders", nil, map[string]string{"Authorization": "Bearer " + bob})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOtherCustomersOrderIsHidden(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", "eshop", time.Minute)
	env := newTestEnv(t, jwtService)
	alice, _, err := jwtService.GenerateAccessToken("alice", auth.RoleCustomer)
	require.NoError(t, err)
	bob, _, err := jwtService.GenerateAccessToken("bob", auth.RoleCustomer)
	require.NoError(t, err)
	admin, _, err := jwtService.GenerateAccessToken("ops", auth.RoleAdmin)
	require.NoError(t, err)
	asAlice := map[string]string{"Authorization": "Bearer " + alice}
	asBob := map[string]string{"Authorization": "Bearer " + bob}

	rec := env.do(t, http.MethodPost, "/api/v1/orders", orderBody("alice", 1), asAlice)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id+"/history", nil, asBob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "4111111111111111")

	rec = env.do(t, http.MethodPut, "/api/v1/orders/"+id, orderBody("alice", 2),
		map[string]string{"Authorization": "Bearer " + bob, "If-Match": `W/"0"`})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Lovelace")

	rec = env.do(t, http.MethodDelete, "/api/v1/orders/"+id, nil,
		map[string]string{"Authorization": "Bearer " + bob, "If-Match": `W/"0"`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Untouched by the rejected writes.
	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id, nil, asAlice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `W/"0"`, rec.Header().Get("ETag"))

	for _, headers := range []map[string]string{asAlice, {"Authorization": "Bearer " + admin}} {
		rec = env.do(t, http.MethodGet, "/api/v1/orders/"+id+"/history", nil, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.NotContains(t, body, "4111111111111111")
		assert.NotContains(t, body, "cvv")
		assert.NotContains(t, body, "card_number")
		assert.Contains(t, body, `"card_last4":"1111"`)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, auth.NewJWTService("test-secret", "eshop", time.Minute))

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	metrics.CommandsTotal.WithLabelValues("create_order", "ok").Add(0)
	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ordering_commands_total")
}
