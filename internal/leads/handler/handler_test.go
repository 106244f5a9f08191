package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/leads/domain"
	"dealership_crm_backend/internal/leads/repository"
	"dealership_crm_backend/internal/leads/scoring"
	"dealership_crm_backend/internal/leads/service"
	"dealership_crm_backend/internal/leads/transport"
	"dealership_crm_backend/platform/httpkit"
	"dealership_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgStatus = "expected status %d, got %d: %s"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	scorer, err := scoring.NewScorer(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	log := eventlog.New(eventlog.NewMemoryStore(), nil, nil)
	svc := service.New(log, repository.NewMemory(), scorer, "US", nil)

	val := validator.New()
	if err := RegisterValidations(val); err != nil {
		t.Fatalf("register validations: %v", err)
	}

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextActorIDKey, uuid.New())
		c.Next()
	})
	New(svc, val).RegisterRoutes(engine.Group("/leads"))
	return engine
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

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpkit.ErrorResponse {
	t.Helper()
	var out httpkit.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return out
}

func createLead(t *testing.T, engine *gin.Engine) transport.LeadResponse {
	t.Helper()
	rec := do(engine, http.MethodPost, "/leads", map[string]any{
		"firstName": "Ines",
		"lastName":  "Costa",
		"phone":     "202-555-0187",
		"source":    "referral",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf(msgStatus, http.StatusCreated, rec.Code, rec.Body.String())
	}
	var lead transport.LeadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	return lead
}

func TestCreateAndGet(t *testing.T) {
	engine := newTestRouter(t)
	lead := createLead(t, engine)

	rec := do(engine, http.MethodGet, "/leads/"+lead.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf(msgStatus, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	engine := newTestRouter(t)
	lead := createLead(t, engine)
	leadPath := "/leads/" + lead.ID.String()

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown lead", http.MethodGet, "/leads/" + uuid.NewString(), nil, http.StatusNotFound, "lead_not_found"},
		{"bad id", http.MethodGet, "/leads/nope", nil, http.StatusBadRequest, ""},
		{"stale version", http.MethodPost, leadPath + "/notes", map[string]any{"body": "x", "expectedVersion": 0}, http.StatusConflict, eventlog.CodeConcurrentModification},
		{"unknown status", http.MethodPatch, leadPath + "/status", map[string]any{"status": "sold"}, http.StatusBadRequest, ""},
		{"same status", http.MethodPatch, leadPath + "/status", map[string]any{"status": domain.StatusNew}, http.StatusUnprocessableEntity, "status_unchanged"},
		{"empty update", http.MethodPatch, leadPath, map[string]any{}, http.StatusBadRequest, "nothing_to_update"},
		{"bad channel", http.MethodPost, leadPath + "/contacts", map[string]any{"channel": "pigeon"}, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(engine, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf(msgStatus, tc.wantCode, rec.Code, rec.Body.String())
			}
			if tc.wantErr != "" {
				if got := decodeError(t, rec); got.Code != tc.wantErr {
					t.Fatalf("expected code %q, got %q", tc.wantErr, got.Code)
				}
			}
		})
	}
}

func TestArchiveWithoutBody(t *testing.T) {
	engine := newTestRouter(t)
	lead := createLead(t, engine)

	rec := do(engine, http.MethodPost, "/leads/"+lead.ID.String()+"/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf(msgStatus, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = do(engine, http.MethodPost, "/leads/"+lead.ID.String()+"/archive", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf(msgStatus, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	}
}
