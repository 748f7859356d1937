package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealth_ReturnsOK(t *testing.T) {
	r := NewRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestStatus_OmitsNilFuncs(t *testing.T) {
	r := NewRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected an empty status body with all funcs nil, got %v", body)
	}
}

func TestStatus_ReportsCursorOwnedCountAndRunning(t *testing.T) {
	getCursor := func() (scantypes.ScanCursor, error) {
		return scantypes.ScanCursor{Start: 1, Current: 5, End: 10}, nil
	}
	getOwnedCount := func() (int, error) { return 3, nil }
	isRunning := func() bool { return true }

	r := NewRouter(getCursor, getOwnedCount, isRunning)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Cursor struct {
			Start   uint32 `json:"start"`
			Current uint32 `json:"current"`
			End     uint32 `json:"end"`
		} `json:"cursor"`
		OwnedCount int  `json:"owned_count"`
		Watching   bool `json:"watching"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Cursor.Current != 5 || body.OwnedCount != 3 || !body.Watching {
		t.Fatalf("unexpected status body: %+v", body)
	}
}

func TestStatus_PropagatesCursorError(t *testing.T) {
	getCursor := func() (scantypes.ScanCursor, error) { return scantypes.ScanCursor{}, errors.New("boom") }

	r := NewRouter(getCursor, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
