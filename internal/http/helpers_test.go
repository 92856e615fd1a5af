package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	repo    *repository.Repository
	ids     *identity.Provider
	cookies map[string]*http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	creds := &repository.Credentials{
		Driver:            repository.DriverSQLite,
		SQLitePath:        filepath.Join(t.TempDir(), "storefront.db"),
		MigrationsDirPath: "../repository/migrations/sqlite",
	}
	repo, err := repository.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	carts := session.NewRedisStore(rdb, time.Hour)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	cat := catalog.NewService(repo, log)
	cartSvc := service.NewCartService(cat, carts, log)

	ids, err := identity.NewProvider("test-secret", time.Hour)
	require.NoError(t, err)

	hs := Handlers{
		Products: NewProductHandler(cat, 5*time.Second),
		Cart:     NewCartHandler(cartSvc, 5*time.Second),
		Checkout: NewCheckoutHandler(service.NewCheckoutService(repo, carts, service.Config{}, log, m), cartSvc, 5*time.Second),
		Orders:   NewOrdersHandler(service.NewOrderService(repo, carts, service.Config{}, log, m), 5*time.Second),
	}
	cfg := RouterConfig{RequestTimeout: 5 * time.Second, SessionTTL: time.Hour}

	return &testServer{
		t:       t,
		handler: NewRouter(cfg, hs, ids, repo, m, log),
		repo:    repo,
		ids:     ids,
		cookies: make(map[string]*http.Cookie),
	}
}

// client is one browser: it keeps its session cookie and optional bearer token.
type client struct {
	srv   *testServer
	name  string
	token string
}

func (s *testServer) anonymous(name string) *client {
	return &client{srv: s, name: name}
}

func (s *testServer) as(name string, u *domain.User) *client {
	token, err := s.ids.Issue(u)
	require.NoError(s.t, err)
	return &client{srv: s, name: name, token: token}
}

func (c *client) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	c.srv.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.srv.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if ck, ok := c.srv.cookies[c.name]; ok {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	c.srv.handler.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == DefaultSessionCookie {
			c.srv.cookies[c.name] = ck
		}
	}
	return rec
}

func (s *testServer) product(name, price string, stock int) *domain.Product {
	s.t.Helper()
	p := &domain.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	_, err := s.repo.CreateProduct(context.Background(), p)
	require.NoError(s.t, err)
	return p
}

func (s *testServer) stock(id int64) int {
	s.t.Helper()
	p, err := s.repo.FindProductByID(context.Background(), id)
	require.NoError(s.t, err)
	return p.Stock
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

var (
	customer = &domain.User{ID: 1, FullName: "Jane Roe", Email: "jane@example.com", Phone: "0912345678", Address: "1 Main St", Role: domain.RoleCustomer}
	stranger = &domain.User{ID: 2, FullName: "John Doe", Email: "john@example.com", Role: domain.RoleCustomer}
	admin    = &domain.User{ID: 99, FullName: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin}
)
