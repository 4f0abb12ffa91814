package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpnstore/internal/database"
	"vpnstore/internal/model"
)

func newRouter(t *testing.T) (*gin.Engine, *database.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewHandler(db, "test-key", zap.NewNop())
	r := gin.New()
	r.GET("/api/v1/servers", h.ListServers)

	admin := r.Group("/api/v1", h.AdminAuth())
	admin.POST("/servers", h.CreateServer)
	admin.PUT("/servers/:id", h.UpdateServer)
	admin.DELETE("/servers/:id", h.DeleteServer)
	admin.GET("/users/:id", h.GetUser)
	admin.POST("/users/:id/credit", h.CreditUser)
	admin.GET("/users/:id/ledger", h.GetLedger)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	r, _ := newRouter(t)

	t.Run("MissingKey", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/servers", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/servers", "wrong", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("PublicListNeedsNoKey", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/servers", "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestServerLifecycle(t *testing.T) {
	r, db := newRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/servers", "test-key", model.CreateServerRequest{
		Domain: "sg1.example.com", Auth: "secret", Name: "SG-1", Price: 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	servers, err := db.ListServers()
	if err != nil || len(servers) != 1 {
		t.Fatalf("servers = %v err = %v", servers, err)
	}
	id := servers[0].ID

	w = doJSON(t, r, http.MethodPut, "/api/v1/servers/1", "test-key", model.CreateServerRequest{
		Domain: "sg1.example.com", Auth: "secret", Name: "SG-1b", Price: 1500,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	got, err := db.GetServer(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "SG-1b" || got.Price != 1500 {
		t.Errorf("update not applied: %+v", got)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/servers/1", "test-key", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/v1/servers/1", "test-key", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestCreditUserAndLedger(t *testing.T) {
	r, db := newRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/users/42/credit", "test-key",
		model.AdjustBalanceRequest{Amount: 2500})
	if w.Code != http.StatusOK {
		t.Fatalf("credit status = %d, body %s", w.Code, w.Body.String())
	}

	balance, err := db.GetBalance(42)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 2500 {
		t.Errorf("balance = %d, want 2500", balance)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/users/42/ledger", "test-key", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ledger status = %d", w.Code)
	}

	var resp struct {
		Success bool                `json:"success"`
		Data    model.LedgerHistory `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Total != 1 || len(resp.Data.Entries) != 1 {
		t.Fatalf("ledger = %+v, want 1 entry", resp.Data)
	}
	if resp.Data.Entries[0].Amount != 2500 {
		t.Errorf("entry amount = %d, want 2500", resp.Data.Entries[0].Amount)
	}
}

func TestGetUserNotFound(t *testing.T) {
	r, _ := newRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/users/999", "test-key", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
