//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("NUKA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 30 * time.Second}

// do sends a JSON request and decodes the JSON reply into out.
func do(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

type subtask struct {
	ID      string   `json:"id"`
	AgentID string   `json:"agent_id"`
	Task    string   `json:"task"`
	After   []string `json:"after,omitempty"`
}

func missionBody(label string, subtasks ...subtask) map[string]interface{} {
	return map[string]interface{}{
		"label":    label,
		"subtasks": subtasks,
		"requester": map[string]interface{}{
			"session_key":      "smoke-test",
			"delivery_context": map[string]string{"platform": "inbox", "channel": "smoke"},
		},
	}
}

func TestRejectsCycle(t *testing.T) {
	var out map[string]string
	code := do(t, "POST", "/api/missions", missionBody("cycle",
		subtask{ID: "a", AgentID: "research", Task: "x", After: []string{"b"}},
		subtask{ID: "b", AgentID: "research", Task: "y", After: []string{"a"}},
	), &out)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if out["kind"] != "cycle" {
		t.Errorf("kind = %q, want cycle", out["kind"])
	}
}

func TestRejectsUnknownDependency(t *testing.T) {
	var out map[string]string
	code := do(t, "POST", "/api/missions", missionBody("dangling",
		subtask{ID: "a", AgentID: "research", Task: "x", After: []string{"ghost"}},
	), &out)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	t.Logf("reply: %v", out)
}

func TestMissionList(t *testing.T) {
	var out []map[string]interface{}
	if code := do(t, "GET", "/api/missions", nil, &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	t.Logf("missions: %d", len(out))
}

func TestGatewayStatus(t *testing.T) {
	var out []map[string]interface{}
	if code := do(t, "GET", "/api/gateway/status", nil, &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	found := false
	for _, s := range out {
		if s["platform"] == "inbox" {
			found = true
		}
	}
	if !found {
		t.Errorf("inbox adapter missing from %v", out)
	}
}

// TestMissionRoundTrip needs configured model providers, so it only runs
// when NUKA_SMOKE_MISSION is set.
func TestMissionRoundTrip(t *testing.T) {
	if os.Getenv("NUKA_SMOKE_MISSION") == "" {
		t.Skip("NUKA_SMOKE_MISSION not set")
	}
	agent := os.Getenv("NUKA_SMOKE_AGENT")
	if agent == "" {
		agent = "research"
	}

	var created map[string]string
	code := do(t, "POST", "/api/missions", missionBody("smoke",
		subtask{ID: "hello", AgentID: agent, Task: "Reply with a one-line greeting."},
		subtask{ID: "echo", AgentID: agent, Task: "Repeat the greeting you were given.", After: []string{"hello"}},
	), &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d: %v", code, created)
	}
	id := created["mission_id"]

	deadline := time.Now().Add(3 * time.Minute)
	var result map[string]string
	for time.Now().Before(deadline) {
		if do(t, "GET", "/api/missions/"+id+"/result", nil, &result) == http.StatusOK {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if result["status"] == "" {
		t.Fatalf("mission %s did not finish", id)
	}
	if !strings.Contains(result["text"], "hello") {
		t.Errorf("result text missing subtask section: %s", result["text"])
	}
	t.Logf("reply: %.300s", result["text"])

	var inbox []map[string]interface{}
	do(t, "GET", "/api/inbox/smoke", nil, &inbox)
	if len(inbox) == 0 {
		t.Error("no announcement delivered to the smoke inbox")
	}
}
