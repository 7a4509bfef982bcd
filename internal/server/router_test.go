package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testConfig() config.Config {
	return config.Config{
		Port:                  "0",
		DatabaseDSN:           "test",
		JWTSecret:             "test-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		RingCapacity:          10,
		HeartbeatPeriod:       time.Minute,
		RateLimitMax:          10,
		RateLimitWindow:       30 * time.Second,
		MaxPayloadBytes:       1 << 20,
		SendQueueDepth:        10,
		FeedPollPeriod:        time.Second,
	}
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	core := relay.New(cfg, zerolog.Nop())
	if err := core.Prime(context.Background(), store.New(gdb)); err != nil {
		t.Fatalf("prime core: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	core.Start(ctx)

	return SetupRouter(cfg, gdb, core)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	engine := setupTestRouter(t)
	w := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	engine := setupTestRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"username": "ann", "password": "pass1234", "display_name": "Ann"})
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"username": "ann", "password": "other"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "ann", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login: expected 401, got %d", w.Code)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "ann", "password": "pass1234"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body)
	}
	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("login response missing tokens")
	}

	// Protected routes require the bearer token.
	if w = doJSON(t, engine, http.MethodGet, "/api/v1/rooms", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("rooms without token: expected 401, got %d", w.Code)
	}
	if w = doJSON(t, engine, http.MethodGet, "/api/v1/rooms", login.AccessToken, nil); w.Code != http.StatusOK {
		t.Errorf("rooms with token: expected 200, got %d: %s", w.Code, w.Body)
	}

	// Refresh rotation: new pair comes back, the old refresh token dies.
	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": login.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body)
	}
	w = doJSON(t, engine, http.MethodPost, "/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": login.RefreshToken})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh token: expected 401, got %d", w.Code)
	}
}

func TestRoomsAndMessages(t *testing.T) {
	engine := setupTestRouter(t)

	doJSON(t, engine, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"username": "bob", "password": "pass1234", "display_name": "Bob"})
	w := doJSON(t, engine, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "bob", "password": "pass1234"})
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/rooms", login.AccessToken,
		map[string]any{"name": "general"})
	if w.Code != http.StatusOK {
		t.Fatalf("create room: expected 200, got %d: %s", w.Code, w.Body)
	}
	var created struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/v1/rooms/%d/messages", created.ID)
	w = doJSON(t, engine, http.MethodPost, path, login.AccessToken,
		map[string]string{"content": "first post"})
	if w.Code != http.StatusOK {
		t.Fatalf("post message: expected 200, got %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, engine, http.MethodGet, path, login.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list messages: expected 200, got %d: %s", w.Code, w.Body)
	}
	var listed struct {
		Messages []struct {
			Content     string `json:"content"`
			DisplayName string `json:"display_name"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Messages) != 1 || listed.Messages[0].Content != "first post" || listed.Messages[0].DisplayName != "Bob" {
		t.Errorf("messages = %+v", listed.Messages)
	}

	// Posting into a room that does not exist is a 404.
	w = doJSON(t, engine, http.MethodPost, "/api/v1/rooms/999/messages", login.AccessToken,
		map[string]string{"content": "lost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown room: expected 404, got %d", w.Code)
	}
}

func TestWsRejectsBeforeUpgrade(t *testing.T) {
	engine := setupTestRouter(t)

	// Missing or malformed room id.
	w := doJSON(t, engine, http.MethodGet, "/ws", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no room id: expected 401, got %d", w.Code)
	}

	// No token at all.
	w = doJSON(t, engine, http.MethodGet, "/ws?room_id=1", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	var rej relay.Rejection
	if err := json.Unmarshal(w.Body.Bytes(), &rej); err != nil {
		t.Fatalf("rejection body not JSON: %v", err)
	}
	if rej.Message != "Unauthorized access" || rej.Code != http.StatusUnauthorized {
		t.Errorf("rejection = %+v", rej)
	}

	// Garbage token.
	w = doJSON(t, engine, http.MethodGet, "/ws?room_id=1&token=not-a-jwt", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}
}
