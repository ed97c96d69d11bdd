package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTokens = identity.TokenConfig{
	Secret:   "http-test-secret",
	Issuer:   "storefront",
	Audience: "storefront-web",
	TTL:      time.Hour,
}

type testAPI struct {
	handler http.Handler
	repo    *repository.Repository
	issuer  *identity.Issuer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	repo, err := repository.NewRepository(&repository.Credentials{
		Driver:     repository.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.RunMigrations(""))
	require.NoError(t, repo.UpsertProducts(context.Background(), []domain.Product{
		{ID: "prod-a", Name: "Kettle", Price: decimal.RequireFromString("10.00")},
		{ID: "prod-b", Name: "Mug", Price: decimal.RequireFromString("5.50")},
	}))

	log := logger.Discard()
	guard := circuitbreaker.New(circuitbreaker.Settings{CallTimeout: time.Second, Logger: log})
	carts := service.NewCartService(service.CartServiceOptions{
		Repo:     repo,
		Products: repo,
		Guard:    guard,
		Logger:   log,
	})

	handler := NewRouter(RouterOptions{
		Cart: NewCartHandler(carts, 5*time.Second),
		Checkout: NewCheckoutHandler(carts, service.CheckoutOptions{
			Orders: repo,
			Guard:  guard,
			Logger: log,
		}, 5*time.Second),
		Orders:   NewOrdersHandler(repo, guard, 5*time.Second),
		Verifier: identity.NewVerifier(testTokens),
		Logger:   log,
	})
	return &testAPI{handler: handler, repo: repo, issuer: identity.NewIssuer(testTokens)}
}

func (a *testAPI) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := a.issuer.Issue(domain.User{ID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return token
}

// do sends a request; an empty userID sends it anonymously.
func (a *testAPI) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) CartResponseDTO {
	t.Helper()
	var resp CartResponseDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
