// Package status serves the wakegate HTTP status surface: liveness and
// readiness probes, Prometheus metrics, the decision journal and a websocket
// feed of live decisions.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health serves /healthz and /readyz. The checker list is fixed at
// construction.
type Health struct {
	checkers []Checker
}

// NewHealth returns a [Health] evaluating checkers in order on each /readyz.
func NewHealth(checkers ...Checker) *Health {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Health{checkers: c}
}

// Healthz always reports ok.
func (h *Health) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// Readyz returns 200 only when every checker passes, 503 otherwise.
func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ok := true
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		checks[c.Name] = "ok"
	}

	res := healthResult{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ok {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// CommandCheck passes when name resolves to an executable on PATH.
func CommandCheck(name string) Checker {
	return Checker{
		Name: "capture_command",
		Check: func(context.Context) error {
			if _, err := exec.LookPath(name); err != nil {
				return fmt.Errorf("%s not found: %w", name, err)
			}
			return nil
		},
	}
}

// PathCheck passes when path exists.
func PathCheck(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// PingCheck wraps a ping function such as the journal's.
func PingCheck(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
