package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/kpi/aggregator"
	"dealership_crm_backend/internal/kpi/repository"
	"dealership_crm_backend/internal/kpi/service"
	"dealership_crm_backend/platform/httpkit"
	"dealership_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgStatus = "expected status %d, got %d: %s"

type queue struct{ periods []string }

func (q *queue) EnqueueRecompute(ctx context.Context, period string) error {
	q.periods = append(q.periods, period)
	return nil
}

func newTestRouter(t *testing.T, roles []string) (*gin.Engine, *queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	agg, err := aggregator.New(aggregator.DefaultConfig())
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	log := eventlog.New(eventlog.NewMemoryStore(), nil, nil)
	svc := service.New(log, repository.NewMemory(), agg, nil, 0, nil)
	q := &queue{}
	svc.SetScheduler(q)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextActorIDKey, uuid.New())
		c.Set(httpkit.ContextRolesKey, roles)
		c.Next()
	})
	h := New(svc, validator.New())
	h.now = func() time.Time { return time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) }
	h.RegisterRoutes(engine.Group("/kpis"))
	return engine, q
}

func do(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRecomputeRequiresAdmin(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		body     map[string]any
		wantCode int
		queued   int
	}{
		{"rep is forbidden", []string{"sales_rep"}, map[string]any{"period": "2026-10"}, http.StatusForbidden, 0},
		{"admin queues", []string{httpkit.RoleAdmin}, map[string]any{"period": "2026-10"}, http.StatusAccepted, 1},
		{"bad period", []string{httpkit.RoleAdmin}, map[string]any{"period": "10/2026"}, http.StatusBadRequest, 0},
		{"missing period", []string{httpkit.RoleAdmin}, map[string]any{}, http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, q := newTestRouter(t, tc.roles)
			rec := do(engine, http.MethodPost, "/kpis/recompute", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf(msgStatus, tc.wantCode, rec.Code, rec.Body.String())
			}
			if len(q.periods) != tc.queued {
				t.Fatalf("expected %d queued, got %v", tc.queued, q.periods)
			}
		})
	}
}

func TestCurrentErrors(t *testing.T) {
	engine, _ := newTestRouter(t, nil)

	tests := []struct {
		path     string
		wantCode int
		wantErr  string
	}{
		{"/kpis?period=2026-10", http.StatusNotFound, "kpi_not_published"},
		{"/kpis", http.StatusNotFound, "kpi_not_published"},
		{"/kpis?period=2026-1", http.StatusBadRequest, "invalid_period"},
		{"/kpis/history?period=2026-10", http.StatusOK, ""},
	}
	for _, tc := range tests {
		rec := do(engine, http.MethodGet, tc.path, nil)
		if rec.Code != tc.wantCode {
			t.Fatalf(msgStatus, tc.wantCode, rec.Code, rec.Body.String())
		}
		if tc.wantErr == "" {
			continue
		}
		var out httpkit.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Code != tc.wantErr {
			t.Fatalf("%s: expected code %s, got %+v", tc.path, tc.wantErr, out)
		}
	}
}

func TestArchiveErrors(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		path     string
		wantCode int
	}{
		{"rep is forbidden", []string{"sales_rep"}, "/kpis/archive?period=2026-10&version=1", http.StatusForbidden},
		{"missing version", []string{httpkit.RoleAdmin}, "/kpis/archive?period=2026-10", http.StatusBadRequest},
		{"non-numeric version", []string{httpkit.RoleAdmin}, "/kpis/archive?version=latest", http.StatusBadRequest},
		{"no archive configured", []string{httpkit.RoleAdmin}, "/kpis/archive?period=2026-10&version=1", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestRouter(t, tt.roles)
			rec := do(engine, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf(msgStatus, tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}
