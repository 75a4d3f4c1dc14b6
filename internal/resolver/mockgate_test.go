package resolver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"unlocker/internal/domain"
)

// mockGate is an in-memory gate host: it serves a locked page with an
// embedded challenge config, per-step endpoints that hand out evidence
// tokens, and an unlock endpoint that verifies order, evidence, and timing
// the way a real gate would.
type mockGate struct {
	token    string
	minWait  time.Duration
	finalURL string

	// pageFailures makes the first N page fetches answer 503.
	pageFailures int

	mu           sync.Mutex
	pageServed   time.Time
	pageHits     int
	failuresLeft int
	subEvidence  string
	visEvidence  string
	subscribed   bool
	visited      bool
	badCookies   []string

	srv *httptest.Server
}

func newMockGate(minWait time.Duration, finalURL string) *mockGate {
	g := &mockGate{
		token:    "tok-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		minWait:  minWait,
		finalURL: finalURL,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/locked", g.handlePage)
	mux.HandleFunc("/subscribe", g.handleSubscribe)
	mux.HandleFunc("/visit", g.handleVisit)
	mux.HandleFunc("/unlock", g.handleUnlock)
	g.srv = httptest.NewServer(mux)
	return g
}

func (g *mockGate) URL() string { return g.srv.URL + "/locked" }

func (g *mockGate) Close() { g.srv.Close() }

// sessionCookie is the per-gate session marker; checkCookie records any
// request arriving with a foreign or missing session value.
func (g *mockGate) sessionValue() string { return "sess-" + g.token }

func (g *mockGate) checkCookie(r *http.Request) bool {
	ck, err := r.Cookie("gate_session")
	ok := err == nil && ck.Value == g.sessionValue()
	if !ok {
		g.mu.Lock()
		val := ""
		if ck != nil {
			val = ck.Value
		}
		g.badCookies = append(g.badCookies, val)
		g.mu.Unlock()
	}
	return ok
}

func (g *mockGate) handlePage(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.pageHits == 0 {
		g.failuresLeft = g.pageFailures
	}
	g.pageHits++
	if g.failuresLeft > 0 {
		g.failuresLeft--
		g.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	g.pageServed = time.Now()
	g.subscribed = false
	g.visited = false
	g.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "gate_session", Value: g.sessionValue()})
	fmt.Fprintf(w, `<!doctype html>
<html><head><title>Unlock your download</title>
<script id="gate-config" type="application/json">
{
  "token": %q,
  "minWaitSeconds": %d,
  "unlockUrl": "/unlock",
  "steps": [
    {"kind": "timer"},
    {"kind": "subscribe", "endpoint": "/subscribe", "params": {"channel": "main"}},
    {"kind": "visit", "endpoint": "/visit", "params": {"target": "promo"}}
  ]
}
</script>
</head><body><div class="lock">Complete the steps below</div></body></html>`,
		g.token, int(g.minWait/time.Second))
}

func (g *mockGate) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !g.checkCookie(r) {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}
	var req struct {
		Token  string            `json:"token"`
		Params map[string]string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token != g.token || req.Params["channel"] != "main" {
		http.Error(w, "bad subscribe", http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.subscribed = true
	g.subEvidence = "sub-" + g.token
	g.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{"evidence": "sub-" + g.token})
}

func (g *mockGate) handleVisit(w http.ResponseWriter, r *http.Request) {
	if !g.checkCookie(r) {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}
	if r.URL.Query().Get("token") != g.token || r.URL.Query().Get("target") != "promo" {
		http.Error(w, "bad visit", http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	// Gate enforces step order server-side.
	if !g.subscribed {
		g.mu.Unlock()
		http.Error(w, "out of order", http.StatusConflict)
		return
	}
	g.visited = true
	g.visEvidence = "vis-" + g.token
	g.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{"evidence": "vis-" + g.token})
}

func (g *mockGate) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if !g.checkCookie(r) {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}
	var req struct {
		Token  string             `json:"token"`
		Proofs []domain.StepProof `json:"proofs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token != g.token {
		g.reject(w, "bad token")
		return
	}

	g.mu.Lock()
	pageServed := g.pageServed
	subscribed, visited := g.subscribed, g.visited
	subEv, visEv := g.subEvidence, g.visEvidence
	g.mu.Unlock()

	if !subscribed || !visited {
		g.reject(w, "steps incomplete")
		return
	}
	if len(req.Proofs) != 3 || req.Proofs[0].Index != 0 || req.Proofs[1].Index != 1 || req.Proofs[2].Index != 2 {
		g.reject(w, "proof set out of order")
		return
	}
	waited, err := strconv.ParseInt(req.Proofs[0].Evidence, 10, 64)
	if err != nil || time.Duration(waited)*time.Millisecond < g.minWait {
		g.reject(w, "timer evidence too short")
		return
	}
	if time.Since(pageServed) < g.minWait {
		g.reject(w, "submitted too early")
		return
	}
	if req.Proofs[1].Evidence != subEv || req.Proofs[2].Evidence != visEv {
		g.reject(w, "evidence mismatch")
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"url": g.finalURL})
}

func (g *mockGate) reject(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
