package app

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

	"github.com/campusfriends/backend/internal/config"
	"github.com/campusfriends/backend/internal/handlers"
)

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	cfg, err := config.FromEnvironment(map[string]string{
		"CAMPUSFRIENDS_STORE_DRIVER":    driver,
		"CAMPUSFRIENDS_SQLITE_PATH":     filepath.Join(t.TempDir(), "campusfriends.db"),
		"CAMPUSFRIENDS_JWT_SECRET":      "app-test-secret",
		"CAMPUSFRIENDS_COUNT_CACHE_TTL": "1m",
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, cfg config.Config) handlers.Dependencies {
	t.Helper()
	deps, cleanup, err := buildDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("build dependencies: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cleanup(ctx)
	})
	return deps
}

func TestBuildDependencies(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			deps := build(t, testConfig(t, driver))

			if deps.Users == nil || deps.Sessions == nil || deps.Verifier == nil {
				t.Fatal("expected auth dependencies to be configured")
			}
			if deps.Relationships == nil || deps.Changes == nil {
				t.Fatal("expected relationship dependencies to be configured")
			}
			if deps.AuthLimiter == nil || deps.SendLimiter == nil {
				t.Fatal("expected rate limiters to be configured")
			}
			if driver == config.DriverSQLite {
				if deps.HealthCheck == nil {
					t.Fatal("expected sqlite health check")
				}
				if err := deps.HealthCheck(context.Background()); err != nil {
					t.Fatalf("health check: %v", err)
				}
			}
		})
	}
}

func TestBuildDependenciesRequiresSecret(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.JWTSecret = ""

	if _, _, err := buildDependencies(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatal("expected an error without a signing secret")
	}
}

type client struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

func (c client) do(method, path string, payload any, out any) int {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.server.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

type signupResult struct {
	UserID string `json:"userId"`
	Tokens struct {
		AccessToken string `json:"accessToken"`
	} `json:"tokens"`
}

func signUp(t *testing.T, server *httptest.Server, username string) (client, string) {
	t.Helper()
	var out signupResult
	status := client{t: t, server: server}.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":    username + "@campus.test",
		"username": username,
		"password": "correct-horse",
	}, &out)
	if status != http.StatusCreated {
		t.Fatalf("signup %s: status %d", username, status)
	}
	return client{t: t, server: server, token: out.Tokens.AccessToken}, out.UserID
}

func TestServeFriendFlowEndToEnd(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			deps := build(t, testConfig(t, driver))
			mux := http.NewServeMux()
			handlers.RegisterRoutes(mux, deps)
			server := httptest.NewServer(mux)
			t.Cleanup(server.Close)

			ada, adaID := signUp(t, server, "ada")
			grace, graceID := signUp(t, server, "grace")

			var count struct {
				Count int `json:"count"`
			}
			if status := grace.do(http.MethodGet, "/api/v1/relationships/count", nil, &count); status != http.StatusOK || count.Count != 0 {
				t.Fatalf("initial count: status %d count %d", status, count.Count)
			}

			var sent struct {
				Request struct {
					ID string `json:"id"`
				} `json:"request"`
			}
			if status := ada.do(http.MethodPost, "/api/v1/relationships/requests", map[string]string{"receiverId": graceID}, &sent); status != http.StatusCreated {
				t.Fatalf("send: status %d", status)
			}
			if status := grace.do(http.MethodPost, "/api/v1/relationships/requests/respond", map[string]string{"requestId": sent.Request.ID, "action": "accept"}, nil); status != http.StatusOK {
				t.Fatalf("accept: status %d", status)
			}

			var rel struct {
				Status string `json:"status"`
			}
			if status := ada.do(http.MethodGet, "/api/v1/relationships/status?user="+graceID, nil, &rel); status != http.StatusOK || rel.Status != "established" {
				t.Fatalf("status after accept: %d %q", status, rel.Status)
			}

			// The cached count is invalidated asynchronously by the hub.
			deadline := time.Now().Add(2 * time.Second)
			for {
				grace.do(http.MethodGet, "/api/v1/relationships/count", nil, &count)
				if count.Count == 1 {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("expected count to reach 1, still %d", count.Count)
				}
				time.Sleep(10 * time.Millisecond)
			}

			if status := grace.do(http.MethodPost, "/api/v1/relationships/remove", map[string]string{"userId": adaID}, nil); status != http.StatusOK {
				t.Fatalf("remove: status %d", status)
			}
			if status := ada.do(http.MethodGet, "/api/v1/relationships/status?user="+graceID, nil, &rel); status != http.StatusOK || rel.Status != "strangers" {
				t.Fatalf("status after remove: %d %q", status, rel.Status)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Fatal("expected default same-origin check when no origins are configured")
	}

	check := originChecker([]string{"https://app.campus.edu/"})
	cases := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "https://app.campus.edu", want: true},
		{origin: "http://api.campus.edu", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://api.campus.edu/api/v1/relationships/stream", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := check(req); got != tc.want {
			t.Fatalf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}
}
