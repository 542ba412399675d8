package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/behavior"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/casemgmt"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/evaluator"
	"github.com/opensource-finance/heron/internal/history"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/sanctions"
	"github.com/shopspring/decimal"
)

const testSecret = "test-secret"

type testEnv struct {
	server *Server
	bus    *bus.ChannelBus
	repo   *repository.SQLRepository
}

// newTestEnv wires the full pipeline over a temp SQLite database.
func newTestEnv(t *testing.T, auth domain.AuthConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	tmpFile, err := os.CreateTemp("", "heron-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	store := sanctions.NewStore()
	store.Load(sanctions.LocalList{
		Entities: []domain.SanctionedEntity{
			{Name: "Ali Mohammed", Country: "Iran", SanctioningBody: "UN"},
		},
	})

	catalogue, err := rules.NewCatalogue()
	if err != nil {
		t.Fatalf("failed to create catalogue: %v", err)
	}
	manager := rules.NewManager(rules.NewEngine(), rules.NewLoader(catalogue), repo, rules.ManagerConfig{Builtin: true})
	if _, errs := manager.Reload(ctx); len(errs) > 0 {
		t.Fatalf("rule reload failed: %v", errs)
	}

	hist := history.NewService(repo, nil, history.Config{})
	auditor := audit.NewLogger(repo)
	alerts := alerting.NewEngine(alerting.DefaultConfig(),
		alerting.WithStore(repo),
		alerting.WithAuditor(auditor),
		alerting.WithReviewer(casemgmt.NewReviewer(eventBus)),
	)
	m := metrics.New()

	eval, err := evaluator.New(evaluator.Deps{
		Sanctions: store,
		Rules:     manager.Engine(),
		Scorer:    risk.NewScorer(decimal.NewFromInt(100000), store, hist),
		Detector:  behavior.NewDetector(),
		History:   hist,
		Alerts:    alerts,
		Audit:     auditor,
		Observer:  m,
	})
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	srv, err := NewServer(ctx, cfg, auth, Deps{
		Repo:      repo,
		Bus:       eventBus,
		Evaluator: eval,
		Rules:     manager,
		Alerts:    alerts,
		Sanctions: store,
		Metrics:   m,
		Version:   "test-v1",
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &testEnv{server: srv, bus: eventBus, repo: repo}
}

func (e *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func txRequest(sender, country string, amount int64) domain.TransactionRequest {
	return domain.TransactionRequest{
		Sender:   sender,
		Receiver: "Receiver Co",
		Amount:   decimal.NewFromInt(amount),
		Currency: "USD",
		Country:  country,
	}
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) domain.IngestionResult {
	t.Helper()
	var result domain.IngestionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v (%s)", err, rr.Body.String())
	}
	return result
}

func token(t *testing.T, role string) string {
	t.Helper()
	claims := RoleClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + signed
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	t.Run("Health", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response: %v", resp)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(http.MethodPost, "/evaluate", txRequest("John Doe", "USA", 1000))
		rr := env.do(http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "heron_evaluations_total") {
			t.Error("expected evaluation counter in metrics output")
		}
	})
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	t.Run("SanctionsAlert", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/evaluate", txRequest("Ali Mohammed", "Iran", 50000))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		result := decodeResult(t, rr)
		if !result.AlertGenerated || result.AlertID == nil {
			t.Fatalf("expected alert, got %+v", result)
		}

		rr = env.do(http.MethodGet, "/alerts/"+*result.AlertID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected stored alert, got %d", rr.Code)
		}
		var alert domain.Alert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.Type != domain.AlertSanctions || alert.PriorityScore != 100 {
			t.Errorf("unexpected alert: %+v", alert)
		}
	})

	t.Run("CleanTransaction", func(t *testing.T) {
		result := decodeResult(t, env.do(http.MethodPost, "/evaluate", txRequest("John Doe", "USA", 1000)))
		if result.Status != domain.StatusSuccess || result.AlertGenerated || result.RiskScore != 0 {
			t.Errorf("unexpected clean result: %+v", result)
		}
	})

	t.Run("DuplicateSuppressed", func(t *testing.T) {
		first := decodeResult(t, env.do(http.MethodPost, "/evaluate", txRequest("Big Spender", "USA", 15000)))
		second := decodeResult(t, env.do(http.MethodPost, "/evaluate", txRequest("Big Spender", "USA", 15000)))
		if !first.AlertGenerated {
			t.Fatalf("expected first alert, got %+v", first)
		}
		if second.AlertGenerated {
			t.Errorf("expected duplicate suppression, got %+v", second)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/evaluate", txRequest("", "USA", 100))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
		if result := decodeResult(t, rr); result.Status != domain.StatusInvalidInput {
			t.Errorf("expected INVALID_INPUT, got %s", result.Status)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		if rr := env.do(http.MethodPost, "/evaluate", "{oops"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownAlert", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/alerts/does-not-exist", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		var stats domain.EvaluationStats
		json.Unmarshal(env.do(http.MethodGet, "/stats", nil).Body.Bytes(), &stats)
		if stats.TotalEvaluated < 4 || stats.SanctionsMatches != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}

		var alertStats domain.AlertStats
		json.Unmarshal(env.do(http.MethodGet, "/alerts/stats", nil).Body.Bytes(), &alertStats)
		if alertStats.TotalCreated != 2 || alertStats.DuplicateSuppressed != 1 {
			t.Errorf("unexpected alert stats: %+v", alertStats)
		}
	})
}

func TestRoleCheck(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{JWTSecret: testSecret, RequiredRole: "ANALYST"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusForbidden},
		{"garbage token", "Bearer not-a-jwt", http.StatusForbidden},
		{"wrong role", token(t, "VIEWER"), http.StatusForbidden},
		{"analyst", token(t, "ANALYST"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/evaluate", txRequest("John Doe", "USA", 1000), "Authorization", tt.header)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if tt.want == http.StatusForbidden {
				var resp map[string]string
				json.Unmarshal(rr.Body.Bytes(), &resp)
				if resp["error"] != "UnauthorizedAccessError" {
					t.Errorf("expected UnauthorizedAccessError, got %v", resp)
				}
			}
		})
	}

	t.Run("ProbesOpen", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
			t.Errorf("expected health to skip the role check, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	var listed struct {
		Count int `json:"count"`
	}
	json.Unmarshal(env.do(http.MethodGet, "/rules", nil).Body.Bytes(), &listed)
	base := listed.Count
	if base != len(rules.BuiltinDefinitions()) {
		t.Fatalf("expected %d builtin rules, got %d", len(rules.BuiltinDefinitions()), base)
	}

	t.Run("Create", func(t *testing.T) {
		def := domain.RuleDefinition{Description: "Grey List Transfer", Sensitivity: "MEDIUM", Type: "fatf_grey_list"}
		rr := env.do(http.MethodPost, "/rules", def)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		json.Unmarshal(env.do(http.MethodGet, "/rules", nil).Body.Bytes(), &listed)
		if listed.Count != base+1 {
			t.Errorf("expected %d rules, got %d", base+1, listed.Count)
		}
	})

	t.Run("RejectUnknownType", func(t *testing.T) {
		def := domain.RuleDefinition{Description: "Bogus", Sensitivity: "LOW", Type: "telepathy"}
		if rr := env.do(http.MethodPost, "/rules", def); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadKeepsStored", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/rules/reload", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != base+1 {
			t.Errorf("expected %d rules after reload, got %d", base+1, resp.Count)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if rr := env.do(http.MethodDelete, "/rules/Grey%20List%20Transfer", nil); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr := env.do(http.MethodDelete, "/rules/Grey%20List%20Transfer", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 on second delete, got %d", rr.Code)
		}
	})

	t.Run("BuiltinNotDeletable", func(t *testing.T) {
		if rr := env.do(http.MethodDelete, "/rules/High%20Value%20Transfer%20Rule", nil); rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
		}
		json.Unmarshal(env.do(http.MethodGet, "/rules", nil).Body.Bytes(), &listed)
		if listed.Count != base {
			t.Errorf("expected %d rules, got %d", base, listed.Count)
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("WildcardWithoutCredentials", func(t *testing.T) {
		env := newTestEnv(t, domain.AuthConfig{})
		rr := env.do(http.MethodGet, "/health", nil, "Origin", "https://evil.example")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected wildcard origin, got %q", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
			t.Errorf("credentials must not be allowed for wildcard origins, got %q", got)
		}
	})

	t.Run("ExplicitOrigins", func(t *testing.T) {
		r := chi.NewRouter()
		r.Use(cors.Handler(corsOptions([]string{"https://ops.example"})))
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://ops.example")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("expected credentials for listed origin, got %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr = httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin must not be reflected, got %q", got)
		}
	})
}

func TestCooldownEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	result := decodeResult(t, env.do(http.MethodPost, "/evaluate", txRequest("Maria", "Mexico", 1000)))
	if !result.AlertGenerated {
		t.Fatalf("expected regional alert, got %+v", result)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(env.do(http.MethodGet, "/cooldowns", nil).Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 active cooldown, got %d", resp.Count)
	}

	if rr := env.do(http.MethodDelete, "/cooldowns", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	json.Unmarshal(env.do(http.MethodGet, "/cooldowns", nil).Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("expected cooldowns cleared, got %d", resp.Count)
	}
}

func TestSanctionsEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	t.Run("Search", func(t *testing.T) {
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(env.do(http.MethodGet, "/sanctions/search?name=ali", nil).Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 result, got %d", resp.Count)
		}
	})

	t.Run("SearchRequiresQuery", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/sanctions/search", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("Status", func(t *testing.T) {
		var resp struct {
			LocalEntities int `json:"localEntities"`
		}
		json.Unmarshal(env.do(http.MethodGet, "/sanctions/status", nil).Body.Bytes(), &resp)
		if resp.LocalEntities != 1 {
			t.Errorf("expected 1 local entity, got %d", resp.LocalEntities)
		}
	})

	t.Run("RefreshWithoutFeed", func(t *testing.T) {
		if rr := env.do(http.MethodPost, "/sanctions/refresh", nil); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})

	queued := make(chan []byte, 1)
	sub, err := env.bus.Subscribe(context.Background(), domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		queued <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	rr := env.do(http.MethodPost, "/ingest", txRequest("Queued Sender", "USA", 700))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["txId"] == "" {
		t.Error("expected generated txId")
	}

	select {
	case payload := <-queued:
		var req domain.TransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Fatalf("failed to decode queued request: %v", err)
		}
		if req.ID != resp["txId"] || req.Sender != "Queued Sender" {
			t.Errorf("unexpected queued request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected transaction on the ingestion topic")
	}
}

func TestAlertStream(t *testing.T) {
	env := newTestEnv(t, domain.AuthConfig{})
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/alerts/stream", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Stream().Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.do(http.MethodPost, "/evaluate", txRequest("Ali Mohammed", "Iran", 50000))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected streamed alert: %v", err)
	}
	var alert domain.Alert
	if err := json.Unmarshal(msg, &alert); err != nil {
		t.Fatalf("failed to decode streamed alert: %v", err)
	}
	if alert.Type != domain.AlertSanctions || alert.Sender != "Ali Mohammed" {
		t.Errorf("unexpected streamed alert: %+v", alert)
	}
}
