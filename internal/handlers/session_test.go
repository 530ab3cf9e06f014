package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"brokerbot/internal/services"
	"brokerbot/internal/storage"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.MemoryService) {
	t.Helper()
	store := storage.NewMemoryStore(24 * time.Hour)
	memory := services.NewMemoryService(store, nil, services.MemoryConfig{
		MaxTokensPerChunk: 2000,
		MaxContextTokens:  4000,
		SessionTimeout:    24 * time.Hour,
	})

	app := fiber.New()
	healthHandler := NewHealthHandler("memory")
	sessionHandler := NewSessionHandler(memory)

	app.Get("/health", healthHandler.Handle)
	app.Get("/ping", healthHandler.Ping)
	api := app.Group("/api")
	api.Post("/sessions", sessionHandler.Create)
	api.Get("/sessions", sessionHandler.List)
	api.Post("/sessions/cleanup", sessionHandler.Cleanup)
	api.Get("/sessions/:id", sessionHandler.Info)
	api.Get("/sessions/:id/history", sessionHandler.History)
	api.Delete("/sessions/:id", sessionHandler.Delete)

	return app, memory
}

func decodeBody(t *testing.T, resp io.Reader) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(resp).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["storage"] != "memory" {
		t.Errorf("storage = %v, want memory", body["storage"])
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("ping request: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "pong" {
		t.Errorf("ping body = %q, want pong", data)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	app, _ := setupTestApp(t)

	// Create
	resp, err := app.Test(httptest.NewRequest("POST", "/api/sessions", nil))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody(t, resp.Body)
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatal("create response missing session_id")
	}

	// List
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/sessions", nil))
	listed := decodeBody(t, resp.Body)
	if listed["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", listed["count"])
	}

	// Info
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/sessions/"+sessionID, nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("info status = %d, want 200", resp.StatusCode)
	}
	info := decodeBody(t, resp.Body)
	if info["session_id"] != sessionID {
		t.Errorf("info session_id = %v, want %s", info["session_id"], sessionID)
	}
	if info["total_messages"].(float64) != 0 {
		t.Errorf("fresh session total_messages = %v, want 0", info["total_messages"])
	}

	// Delete
	resp, _ = app.Test(httptest.NewRequest("DELETE", "/api/sessions/"+sessionID, nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}

	// Gone
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/sessions/"+sessionID, nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("info after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryOverHTTP(t *testing.T) {
	app, memory := setupTestApp(t)
	ctx := context.Background()

	sess, _ := memory.CreateSession(ctx)
	memory.AddMessage(ctx, sess.SessionID, "user", "hello")
	memory.AddMessage(ctx, sess.SessionID, "assistant", "hi there")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/sessions/"+sess.SessionID+"/history", nil))
	if err != nil {
		t.Fatalf("history request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("history status = %d, want 200", resp.StatusCode)
	}
	raw := decodeBody(t, resp.Body)
	if _, ok := raw["active_messages"]; !ok {
		t.Error("history response must carry an active_messages field")
	}
	if _, ok := raw["chunks"]; !ok {
		t.Error("history response must carry a chunks field")
	}
	active, _ := raw["active_messages"].([]interface{})
	if len(active) != 2 {
		t.Fatalf("active_messages holds %d entries, want 2", len(active))
	}
	first, _ := active[0].(map[string]interface{})
	second, _ := active[1].(map[string]interface{})
	if first["role"] != "user" || second["role"] != "assistant" {
		t.Error("history order should be user then assistant")
	}
	if chunks, ok := raw["chunks"].([]interface{}); !ok || len(chunks) != 0 {
		t.Errorf("unchunked session should report an empty chunks array, got %v", raw["chunks"])
	}
}

func TestUnknownSessionRoutes(t *testing.T) {
	app, _ := setupTestApp(t)

	paths := []struct {
		method string
		path   string
	}{
		{"GET", "/api/sessions/unknown"},
		{"GET", "/api/sessions/unknown/history"},
		{"DELETE", "/api/sessions/unknown"},
	}
	for _, p := range paths {
		resp, err := app.Test(httptest.NewRequest(p.method, p.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", p.method, p.path, err)
		}
		if resp.StatusCode != fiber.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", p.method, p.path, resp.StatusCode)
		}
		body := decodeBody(t, resp.Body)
		if msg, _ := body["error"].(string); !strings.Contains(msg, "not found") {
			t.Errorf("%s %s error = %q, want a not-found message", p.method, p.path, msg)
		}
	}
}

func TestCleanupEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/sessions/cleanup", nil))
	if err != nil {
		t.Fatalf("cleanup request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cleanup status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["removed"].(float64) != 0 {
		t.Errorf("removed = %v, want 0", body["removed"])
	}
}
