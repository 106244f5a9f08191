package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/internal/pipeline/domain"
	"dealership_crm_backend/internal/pipeline/repository"
	"dealership_crm_backend/internal/pipeline/service"
	"dealership_crm_backend/internal/pipeline/transport"
	"dealership_crm_backend/platform/httpkit"
	"dealership_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgStatus = "expected status %d, got %d: %s"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := eventlog.New(eventlog.NewMemoryStore(), nil, nil)
	svc := service.New(log, repository.NewMemory(), service.Settings{}, nil)

	val := validator.New()
	if err := RegisterValidations(val); err != nil {
		t.Fatalf("register validations: %v", err)
	}

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextActorIDKey, uuid.New())
		c.Next()
	})
	New(svc, val).RegisterRoutes(engine.Group("/pipeline"))
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

func openOpportunity(t *testing.T, engine *gin.Engine) transport.OpportunityResponse {
	t.Helper()
	rec := do(engine, http.MethodPost, "/pipeline", map[string]any{
		"customer":         map[string]any{"name": "Lena Vogt", "email": "lena@example.com"},
		"vehicle":          map[string]any{"make": "Volvo", "model": "XC40", "year": 2024},
		"quoteAmountCents": 4_100_000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf(msgStatus, http.StatusCreated, rec.Code, rec.Body.String())
	}
	var opp transport.OpportunityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opp); err != nil {
		t.Fatalf("decode opportunity: %v", err)
	}
	return opp
}

func TestTransitionErrorMapping(t *testing.T) {
	engine := newTestRouter(t)
	opp := openOpportunity(t, engine)
	path := "/pipeline/" + opp.ID.String() + "/stage"

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantErr  string
	}{
		{"unknown stage fails validation", map[string]any{"targetStage": "sold", "expectedVersion": 1}, http.StatusBadRequest, ""},
		{"missing expected version", map[string]any{"targetStage": "qualified"}, http.StatusBadRequest, ""},
		{"illegal move", map[string]any{"targetStage": "won", "expectedVersion": 1}, http.StatusUnprocessableEntity, domain.CodeIllegalTransition},
		{"stale version", map[string]any{"targetStage": "qualified", "expectedVersion": 7}, http.StatusConflict, eventlog.CodeConcurrentModification},
		{"legal move", map[string]any{"targetStage": "qualified", "expectedVersion": 1}, http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(engine, http.MethodPatch, path, tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf(msgStatus, tc.wantCode, rec.Code, rec.Body.String())
			}
			if tc.wantErr == "" {
				return
			}
			var out httpkit.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if out.Code != tc.wantErr {
				t.Fatalf("expected code %s, got %s", tc.wantErr, out.Code)
			}
		})
	}
}

func TestUnknownOpportunity(t *testing.T) {
	engine := newTestRouter(t)
	rec := do(engine, http.MethodGet, "/pipeline/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf(msgStatus, http.StatusNotFound, rec.Code, rec.Body.String())
	}
	rec = do(engine, http.MethodGet, "/pipeline/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf(msgStatus, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}
