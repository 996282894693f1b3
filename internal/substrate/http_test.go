package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

func TestHTTPClientSpawnRun(t *testing.T) {
	var got spawnRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "idem-1" {
			t.Errorf("missing idempotency header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-9"})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL+"/", time.Second, zap.NewNop())
	res, err := c.SpawnRun(context.Background(), mission.SpawnRequest{
		AgentID:        "writer",
		Message:        "draft it",
		SessionKey:     "agent:writer:mission:abc:a:1",
		IdempotencyKey: "idem-1",
		Cleanup:        "keep",
		Timeout:        30 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "run-9" {
		t.Errorf("RunID = %q", res.RunID)
	}
	if got.Message != "draft it" || got.AgentID != "writer" || got.TimeoutSeconds != 30 || got.Cleanup != "keep" {
		t.Errorf("request = %+v", got)
	}
}

func TestHTTPClientRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent unknown", http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second, zap.NewNop()).SpawnRun(context.Background(), mission.SpawnRequest{})
	if !errors.Is(err, ErrRunRejected) {
		t.Errorf("err = %v, want ErrRunRejected", err)
	}
}

func TestHTTPClientLatestReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/agent:w:1/latest" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "final answer"})
	}))
	defer ts.Close()

	text, err := NewHTTPClient(ts.URL, time.Second, zap.NewNop()).LatestReply(context.Background(), "agent:w:1")
	if err != nil {
		t.Fatal(err)
	}
	if text != "final answer" {
		t.Errorf("text = %q", text)
	}
}
