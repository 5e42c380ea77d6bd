// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChecker_Health(t *testing.T) {
	c := NewChecker(time.Hour)
	calls := 0
	c.Register("listener", func(ctx context.Context) error {
		calls++
		return nil
	})

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", status)
	}
	if len(checks) != 1 || checks[0].Name != "listener" {
		t.Fatalf("Unexpected checks: %+v", checks)
	}

	c.Health(context.Background())
	if calls != 1 {
		t.Errorf("Expected cached result to be reused, check ran %d times", calls)
	}

	c.Register("broken", func(ctx context.Context) error {
		return errors.New("not listening")
	})
	status, checks = c.Health(context.Background())
	if status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", status)
	}
	if checks[0].Name != "broken" || checks[0].Message != "not listening" {
		t.Errorf("Unexpected first check: %+v", checks[0])
	}
}

func TestReadinessHandler(t *testing.T) {
	ready := false
	c := NewChecker(time.Nanosecond)
	c.Register("listener", func(ctx context.Context) error {
		if !ready {
			return errors.New("not ready")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}

	ready = true
	time.Sleep(time.Millisecond)
	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestReadinessHandler_DurationMillis(t *testing.T) {
	c := NewChecker(time.Hour)
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body struct {
		Checks []struct {
			Name     string `json:"name"`
			Duration int64  `json:"duration_ms"`
		} `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Checks) != 1 {
		t.Fatalf("Expected one check, got %+v", body.Checks)
	}
	if d := body.Checks[0].Duration; d < 20 || d > 5000 {
		t.Errorf("Expected duration in milliseconds, got %d", d)
	}
}
