//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/app"
	"go-identity-service/internal/config"
	"go-identity-service/internal/model"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func requireEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if os.Getenv(name) == "" {
			t.Skipf("%s not set", name)
		}
	}
}

// newServer boots the whole application against the Redis and PostgreSQL
// instances named in the environment.
func newServer(t *testing.T) (*httptest.Server, *redis.Client) {
	t.Helper()
	requireEnv(t, "REDIS_ADDR", "DATABASE_URL")

	t.Setenv("SECRET_KEY", "integration-secret")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("RATE_LIMIT_RPM", "10000")
	t.Setenv("AUTH_RATE_LIMIT_RPM", "10000")
	t.Setenv("SMTP_HOST", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	application, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(application.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	server := httptest.NewServer(application.Handler())
	t.Cleanup(server.Close)
	return server, rdb
}

func uniqueUsername() string {
	return "it" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func doJSON(t *testing.T, method, url, bearer string, payload any) (int, envelope) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// pendingCode finds the verification code parked for username. The log
// notifier is in use, so the code is read back from Redis.
func pendingCode(t *testing.T, rdb *redis.Client, username string) string {
	t.Helper()
	ctx := context.Background()

	var code string
	require.Eventually(t, func() bool {
		iter := rdb.Scan(ctx, 0, "verification:*", 100).Iterator()
		for iter.Next(ctx) {
			raw, err := rdb.Get(ctx, iter.Val()).Bytes()
			if err != nil {
				continue
			}
			var pending model.PendingRegistration
			if json.Unmarshal(raw, &pending) == nil && pending.Username == username {
				code = strings.TrimPrefix(iter.Val(), "verification:")
				return true
			}
		}
		return false
	}, 2*time.Second, 50*time.Millisecond)

	return code
}

func signUp(t *testing.T, server *httptest.Server, rdb *redis.Client, username, pass string) model.TokenPair {
	t.Helper()

	status, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/register", "", model.RegisterRequest{
		Username:        username,
		Email:           username + "@example.com",
		Password:        pass,
		ConfirmPassword: pass,
	})
	require.Equal(t, http.StatusAccepted, status)

	status, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/register/confirm", "",
		model.ConfirmRegistrationRequest{Code: pendingCode(t, rdb, username)})
	require.Equal(t, http.StatusCreated, status)

	var pair model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))
	return pair
}
