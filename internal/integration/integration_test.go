//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/OrsiniBr/DoTrust/internal/api/http"
	appModeration "github.com/OrsiniBr/DoTrust/internal/application/moderation"
	appPenalty "github.com/OrsiniBr/DoTrust/internal/application/penalty"
	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/lock"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/postgres"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/sse"
)

const (
	adminToken = "integration-admin"
	alice      = "0x1111111111111111111111111111111111111111"
	bob        = "0x2222222222222222222222222222222222222222"
)

// toxicClassifier flags every message containing "idiot".
type toxicClassifier struct{}

func (toxicClassifier) Classify(ctx context.Context, req moderation.Request) (*moderation.Verdict, error) {
	_ = ctx
	if strings.Contains(strings.ToLower(req.Text), "idiot") {
		return &moderation.Verdict{
			IsToxic:       true,
			ToxicityScore: 0.9,
			QualityScore:  0.2,
			ViolationType: moderation.ViolationToxic,
			Reasoning:     "insult",
			Confidence:    0.95,
		}, nil
	}
	return &moderation.Verdict{QualityScore: 0.8, ViolationType: moderation.ViolationNone, Confidence: 0.9}, nil
}

type testEnv struct {
	server *httptest.Server
	pool   *pgxpool.Pool
}

func TestRoundLifecycleIntegration(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	env.deposit(t, alice, bob)
	env.deposit(t, bob, alice)

	base := time.Now().UTC().Add(-10 * time.Minute)
	env.insertMessage(t, "m1", alice, bob, "hello", base)
	res := env.postMessage(t, alice, bob, "m1")
	if res["transition"] != "round_started" {
		t.Fatalf("expected round_started, got %v", res["transition"])
	}

	env.insertMessage(t, "m2", bob, alice, "hi back", base.Add(10*time.Second))
	res = env.postMessage(t, bob, alice, "m2")
	if res["transition"] != "round_stopped" {
		t.Fatalf("expected round_stopped, got %v", res["transition"])
	}

	// m1 again: older than the last applied message
	env.do(t, http.MethodPost, "/v1/games/"+bob+"/messages", alice, map[string]string{"messageId": "m1"}, false, http.StatusConflict, nil)
	var dup map[string]interface{}
	env.do(t, http.MethodPost, "/v1/games/"+alice+"/messages", bob, map[string]string{"messageId": "m2"}, false, http.StatusOK, &dup)
	if dup["duplicate"] != true {
		t.Fatalf("expected m2 to be reported as duplicate, got %v", dup)
	}

	// bob opens a round that alice never answers
	env.insertMessage(t, "m3", bob, alice, "still there?", base.Add(7*time.Minute))
	env.postMessage(t, bob, alice, "m3")

	var out map[string]int
	env.do(t, http.MethodPost, "/v1/scheduler/expire", "", nil, true, http.StatusOK, &out)
	if out["processed"] != 1 {
		t.Fatalf("expected 1 processed session, got %d", out["processed"])
	}

	status := env.status(t, alice, bob)
	sess := status["session"].(map[string]interface{})
	if sess["state"] != "ended" || sess["endReason"] != "timeout" {
		t.Fatalf("expected ended by timeout, got %v / %v", sess["state"], sess["endReason"])
	}
	if sess["beneficiary"] != bob {
		t.Fatalf("expected bob as beneficiary, got %v", sess["beneficiary"])
	}
	if _, ok := sess["winner"]; ok {
		t.Fatalf("timeout must not set a winner")
	}
}

func TestModerationPenaltyIntegration(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	env.deposit(t, alice, bob)
	env.deposit(t, bob, alice)

	now := time.Now().UTC()
	env.insertMessage(t, "m1", alice, bob, "you idiot", now)
	env.postMessage(t, alice, bob, "m1")

	deadline := time.Now().Add(5 * time.Second)
	for {
		status := env.status(t, alice, bob)
		if p, ok := status["myPoints"].(float64); ok && p == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("penalty not applied, status: %v", status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	var violations struct {
		Items []map[string]interface{} `json:"items"`
	}
	env.do(t, http.MethodGet, "/v1/games/"+bob+"/violations", alice, nil, false, http.StatusOK, &violations)
	if len(violations.Items) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations.Items))
	}

	var applied bool
	var deduction int
	err := env.pool.QueryRow(context.Background(),
		`SELECT penalty_applied, life_line_deduction FROM messages WHERE message_id = $1`, "m1").
		Scan(&applied, &deduction)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !applied || deduction != 2 {
		t.Fatalf("expected analysis written back, got applied=%v deduction=%d", applied, deduction)
	}
}

func TestSSEDeliveryIntegration(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/v1/stream/sse", nil)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	req.Header.Set("X-Participant-Address", bob)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sse connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("unexpected sse preamble %q: %v", line, err)
	}

	env.deposit(t, alice, bob)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("sse read: %v", err)
		}
		if strings.TrimSpace(line) == "event: deposit:recorded" {
			return
		}
	}
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	if err := postgres.RunMigrations(dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	logger := zerolog.Nop()
	sessionRepo := postgres.NewSessionRepository(pool)
	violationRepo := postgres.NewViolationRepository(pool)
	messageStore := postgres.NewMessageStore(pool)
	locker := lock.NewKeyedMutex()
	sseHub := sse.NewHub()

	guard := appSession.NewGuard(sessionRepo, locker)
	penaltySvc := appPenalty.NewService(sessionRepo, guard, violationRepo, sseHub, logger)
	pipeline := appModeration.NewPipeline(toxicClassifier{}, messageStore, sessionRepo, penaltySvc,
		appModeration.Config{Workers: 2, QueueSize: 16, ClassifierTimeout: time.Second}, logger)
	pipelineCtx, stopPipeline := context.WithCancel(ctx)
	pipeline.Start(pipelineCtx)

	sessionSvc := appSession.NewService(sessionRepo, locker, messageStore, violationRepo, sseHub, pipeline, logger)
	apiServer := httpapi.NewServer(sessionSvc, penaltySvc, nil, sseHub, adminToken, 100, logger)
	server := httptest.NewServer(apiServer.Router())

	cleanup := func() {
		server.Close()
		stopPipeline()
		pipeline.Stop()
		sseHub.Stop()
		pool.Close()
	}
	return &testEnv{server: server, pool: pool}, cleanup
}

func (e *testEnv) insertMessage(t *testing.T, id, sender, receiver, text string, at time.Time) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(),
		`INSERT INTO messages (message_id, sender_id, receiver_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, sender, receiver, text, at)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
}

func (e *testEnv) deposit(t *testing.T, who, peer string) {
	t.Helper()
	e.do(t, http.MethodPost, "/v1/games/"+peer+"/deposit", who, nil, true, http.StatusOK, nil)
}

func (e *testEnv) postMessage(t *testing.T, who, peer, id string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	e.do(t, http.MethodPost, "/v1/games/"+peer+"/messages", who, map[string]string{"messageId": id}, false, http.StatusOK, &out)
	return out
}

func (e *testEnv) status(t *testing.T, who, peer string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	e.do(t, http.MethodGet, "/v1/games/"+peer+"/status", who, nil, false, http.StatusOK, &out)
	return out
}

func (e *testEnv) do(t *testing.T, method, path, who string, body interface{}, admin bool, wantStatus int, out interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if who != "" {
		req.Header.Set("X-Participant-Address", who)
	}
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var errBody map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, wantStatus, resp.StatusCode, errBody)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			violations,
			messages,
			stake_sessions
		RESTART IDENTITY CASCADE
	`)
	return err
}
