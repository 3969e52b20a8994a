package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := NewHealth(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := Checker{Name: "model", Check: func(context.Context) error { return nil }}
	bad := Checker{Name: "capture_command", Check: func(context.Context) error { return errors.New("arecord not found") }}

	tests := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []Checker{ok}, http.StatusOK, "ok"},
		{"one fails", []Checker{ok, bad}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			NewHealth(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			var body healthResult
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.status {
				t.Errorf("body status = %q, want %q", body.Status, tt.status)
			}
			for _, c := range tt.checkers {
				if _, found := body.Checks[c.Name]; !found {
					t.Errorf("check %q missing from %v", c.Name, body.Checks)
				}
			}
		})
	}
}

func TestReadyz_CheckerGetsDeadline(t *testing.T) {
	t.Parallel()
	var hadDeadline bool
	h := NewHealth(Checker{Name: "x", Check: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}})
	h.Readyz(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	if !hadDeadline {
		t.Error("checker context has no deadline")
	}
}

func TestPathCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	present := filepath.Join(dir, "model")
	if err := os.WriteFile(present, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := PathCheck("model", present).Check(context.Background()); err != nil {
		t.Errorf("existing path: %v", err)
	}
	if err := PathCheck("model", filepath.Join(dir, "missing")).Check(context.Background()); err == nil {
		t.Error("missing path: expected error")
	}
}

func TestCommandCheck_Missing(t *testing.T) {
	t.Parallel()
	c := CommandCheck("wakegate-no-such-binary")
	if c.Name != "capture_command" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for missing command")
	}
}
