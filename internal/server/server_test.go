package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozabank/banking_api/internal/config"
	"github.com/mozabank/banking_api/internal/logging"
	"github.com/mozabank/banking_api/internal/middleware"
)

func testConfig() config.Config {
	return config.Config{
		AppName:        "MozaBanking",
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		ShutdownPeriod: time.Second,
		IdempotencyTTL: time.Minute,
		StoreTimeout:   time.Second,
		MaxRetries:     3,
		RetryBase:      time.Millisecond,
		LockBackend:    config.LockBackendRedis,
		LoginRateLimit: 100,
		CORSOrigins:    "http://localhost:4200",
		SeedDemoData:   true,
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	srv, err := New(testConfig(), nil, cache, logging.Discard())
	require.NoError(t, err)
	return srv.App()
}

type response struct {
	Status  int
	Headers http.Header
	Body    map[string]any
	Raw     []byte
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, 10_000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{Status: resp.StatusCode, Headers: resp.Header, Raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	resp := call(t, app, fiber.MethodPost, "/api/v1/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Raw))
	token, _ := resp.Body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func openAccount(t *testing.T, app *fiber.App, adminToken, number, owner string, balance any) {
	t.Helper()
	resp := call(t, app, fiber.MethodPost, "/api/v1/accounts", adminToken, map[string]any{
		"accountNumber": number,
		"userName":      "Holder " + number,
		"nuit":          "40000" + number,
		"balance":       balance,
		"username":      owner,
	})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Raw))
}

func TestBankingFlow(t *testing.T) {
	app := newTestApp(t)

	admin := login(t, app, "admin1", "admin123")
	openAccount(t, app, admin, "0001", "cliente1", 100)
	openAccount(t, app, admin, "0002", "cliente2", "0")
	customer := login(t, app, "cliente1", "senha123")

	transfer := map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": "40.00", "description": "rent"}

	resp := call(t, app, fiber.MethodPost, "/api/v1/transfer", customer, transfer, middleware.IdempotencyKeyHeader, "rent-march")
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Raw))
	assert.Equal(t, "40.00", resp.Body["amount"])
	firstID := resp.Body["transactionId"]

	replay := call(t, app, fiber.MethodPost, "/api/v1/transfer", customer, transfer, middleware.IdempotencyKeyHeader, "rent-march")
	require.Equal(t, http.StatusOK, replay.Status)
	assert.Equal(t, firstID, replay.Body["transactionId"])
	assert.Equal(t, "true", replay.Headers.Get("Idempotent-Replayed"))

	me := call(t, app, fiber.MethodGet, "/api/v1/accounts/me", customer, nil)
	require.Equal(t, http.StatusOK, me.Status)
	assert.Equal(t, "60.00", me.Body["balance"])

	statement := call(t, app, fiber.MethodGet, "/api/v1/statement", customer, nil)
	require.Equal(t, http.StatusOK, statement.Status, string(statement.Raw))
	lines, ok := statement.Body["lines"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]any)
	assert.Equal(t, "OUTGOING", line["direction"])
	assert.Equal(t, "0002", line["counterparty"])
	assert.Equal(t, "40.00", line["amount"])

	receiver := login(t, app, "cliente2", "senha123")
	statement = call(t, app, fiber.MethodGet, "/api/v1/transactions/extract", receiver, nil)
	require.Equal(t, http.StatusOK, statement.Status)
	line = statement.Body["lines"].([]any)[0].(map[string]any)
	assert.Equal(t, "INCOMING", line["direction"])
	assert.Equal(t, "0001", line["counterparty"])
}

func TestTransferErrors(t *testing.T) {
	app := newTestApp(t)

	admin := login(t, app, "admin1", "admin123")
	openAccount(t, app, admin, "0001", "cliente1", "10.00")
	openAccount(t, app, admin, "0002", "cliente2", 0)
	customer := login(t, app, "cliente1", "senha123")

	cases := []struct {
		name   string
		token  string
		body   map[string]any
		status int
		code   string
	}{
		{"no token", "", map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": 1}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"admin cannot transfer", admin, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": 1}, http.StatusForbidden, "FORBIDDEN"},
		{"insufficient funds", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": 40}, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"unknown destination", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "9999", "amount": 1}, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"unknown source", customer, map[string]any{"fromAccountNumber": "9999", "toAccountNumber": "0002", "amount": 1}, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"zero amount", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": 0}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"text amount", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": "ten"}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"sub-cent amount", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": "0.001"}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"amount beyond column precision", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "0002", "amount": "1000000000000000000"}, http.StatusBadRequest, "INVALID_AMOUNT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(t, app, fiber.MethodPost, "/api/v1/transfer", tc.token, tc.body)
			assert.Equal(t, tc.status, resp.Status, string(resp.Raw))
			assert.Equal(t, tc.code, resp.Body["code"])
			assert.NotEmpty(t, resp.Body["title"])
			assert.NotEmpty(t, resp.Body["message"])
		})
	}

	resp := call(t, app, fiber.MethodPost, "/api/v1/transfer", customer, map[string]any{"fromAccountNumber": "0001", "toAccountNumber": "9999", "amount": 1})
	assert.Contains(t, resp.Body["message"], "destination")

	me := call(t, app, fiber.MethodGet, "/api/v1/accounts/me", customer, nil)
	assert.Equal(t, "10.00", me.Body["balance"])
}

func TestTokenErrors(t *testing.T) {
	app := newTestApp(t)
	customer := login(t, app, "cliente1", "senha123")

	parts := strings.Split(customer, ".")
	parts[1] = strings.TrimRight(parts[1], "A") + "B"
	tampered := strings.Join(parts, ".")

	resp := call(t, app, fiber.MethodGet, "/api/v1/statement", tampered, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "INVALID_SIGNATURE", resp.Body["code"])

	resp = call(t, app, fiber.MethodPost, "/api/v1/login", "", map[string]string{"username": "cliente1", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "UNAUTHENTICATED", resp.Body["code"])
}

func TestAdministration(t *testing.T) {
	app := newTestApp(t)
	admin := login(t, app, "admin1", "admin123")
	customer := login(t, app, "cliente1", "senha123")

	resp := call(t, app, fiber.MethodPost, "/api/v1/users", admin, map[string]string{"username": "maria", "password": "segredo1", "role": "CLIENTE"})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Raw))
	assert.Equal(t, "CUSTOMER", resp.Body["role"])

	resp = call(t, app, fiber.MethodPost, "/api/v1/users", admin, map[string]string{"username": "maria", "password": "segredo1"})
	assert.Equal(t, http.StatusConflict, resp.Status)

	resp = call(t, app, fiber.MethodPost, "/api/v1/users", customer, map[string]string{"username": "joao", "password": "segredo1"})
	assert.Equal(t, http.StatusForbidden, resp.Status)

	openAccount(t, app, admin, "0100", "maria", "25.50")
	resp = call(t, app, fiber.MethodPost, "/api/v1/accounts", admin, map[string]any{"accountNumber": "0101", "balance": 1, "username": "ghost"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, "OWNER_NOT_FOUND", resp.Body["code"])

	resp = call(t, app, fiber.MethodPost, "/api/v1/accounts", admin, map[string]any{"accountNumber": "0100", "balance": 1, "username": "cliente3"})
	assert.Equal(t, http.StatusConflict, resp.Status)

	list := call(t, app, fiber.MethodGet, "/api/v1/accounts", admin, nil)
	require.Equal(t, http.StatusOK, list.Status)
	var accounts []map[string]any
	require.NoError(t, json.Unmarshal(list.Raw, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "25.50", accounts[0]["balance"])

	resp = call(t, app, fiber.MethodGet, "/api/v1/accounts", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	one := call(t, app, fiber.MethodGet, "/api/v1/accounts/0100", admin, nil)
	require.Equal(t, http.StatusOK, one.Status, string(one.Raw))
	assert.Equal(t, "maria", one.Body["username"])
	assert.Equal(t, "25.50", one.Body["balance"])

	resp = call(t, app, fiber.MethodGet, "/api/v1/accounts/9999", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", resp.Body["code"])

	resp = call(t, app, fiber.MethodGet, "/api/v1/accounts/0100", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = call(t, app, fiber.MethodGet, "/api/v1/statement", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	resp := call(t, app, fiber.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestClassifyUnknownErrorIsGeneric(t *testing.T) {
	status, body := Classify(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotContains(t, body.Message, "EOF")
}
