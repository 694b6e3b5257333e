package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callsignal/internal/auth"
	"callsignal/internal/calls"
	"callsignal/internal/history"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

type testAPI struct {
	router  *gin.Engine
	manager *calls.Manager
	store   *calls.MemoryStore
}

// identityAs stands in for the JWT middleware: requests carry the user in a
// header instead of a bearer token.
func identityAs(c *gin.Context) {
	if userID := c.GetHeader("X-Test-User"); userID != "" {
		ctx := auth.WithIdentity(c.Request.Context(), userID, "user")
		c.Request = c.Request.WithContext(ctx)
	}
	c.Next()
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := calls.NewMemoryStore()
	manager := calls.NewManager(calls.ManagerDeps{Store: store})
	sweeper := calls.NewSweeper(store, manager, calls.SweeperConfig{})

	h := Handlers{
		Calls:   manager,
		History: history.NewService(&history.MemoryRepo{}),
		Sweeper: sweeper,
		Store:   store,
	}

	r := gin.New()
	r.Use(identityAs)
	r.POST("/v1/calls", h.InitiateCall)
	r.GET("/v1/calls/active", h.ActiveCall)
	r.GET("/v1/calls/history", h.ListCallHistory)
	r.GET("/v1/calls/:call_id", h.GetCall)
	r.POST("/v1/calls/:call_id/accept", h.AcceptCall)
	r.POST("/v1/calls/:call_id/decline", h.DeclineCall)
	r.POST("/v1/calls/:call_id/status", h.UpdateCallStatus)
	r.POST("/v1/calls/:call_id/end", h.EndCall)
	r.PUT("/v1/calls/:call_id/metadata", h.SetCallMetadata)
	r.POST("/v1/admin/calls/sweep", h.RunSweep)

	return &testAPI{router: r, manager: manager, store: store}
}

func (a *testAPI) do(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) calls.Session {
	t.Helper()
	var s calls.Session
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode session: %v (body %s)", err, w.Body.String())
	}
	return s
}

func TestInitiateCall(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	s := decodeSession(t, w)
	if s.State != calls.StateInitiated || s.Initiator != "alice" || s.Receiver != "bob" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestInitiateCall_Unauthenticated(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestInitiateCall_BadRequest(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"alice","kind":"voice"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self call: status %d, want 400", w.Code)
	}
	w = api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"fax"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status %d, want 400", w.Code)
	}
}

func TestInitiateCall_ConflictCarriesBlockingCall(t *testing.T) {
	api := newTestAPI(t)

	first := decodeSession(t, api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`))

	w := api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"carol","kind":"voice"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Error string        `json:"error"`
		Call  calls.Session `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if resp.Error != "already_in_call" {
		t.Fatalf("error %q, want already_in_call", resp.Error)
	}
	if resp.Call.CallID != first.CallID {
		t.Fatalf("conflict references %s, want %s", resp.Call.CallID, first.CallID)
	}
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	s := decodeSession(t, api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"video"}`))
	base := "/v1/calls/" + s.CallID

	if w := api.do(t, "bob", http.MethodPost, base+"/status", `{"status":"ringing"}`); w.Code != http.StatusOK {
		t.Fatalf("ringing: status %d, body %s", w.Code, w.Body.String())
	}
	if w := api.do(t, "bob", http.MethodPost, base+"/accept", ""); w.Code != http.StatusOK {
		t.Fatalf("accept: status %d, body %s", w.Code, w.Body.String())
	}
	if w := api.do(t, "bob", http.MethodPost, base+"/status", `{"status":"active"}`); w.Code != http.StatusOK {
		t.Fatalf("active: status %d, body %s", w.Code, w.Body.String())
	}
	if w := api.do(t, "alice", http.MethodPut, base+"/metadata", `{"metadata":"{\"rtt_ms\":40}"}`); w.Code != http.StatusOK {
		t.Fatalf("metadata: status %d, body %s", w.Code, w.Body.String())
	}

	w := api.do(t, "alice", http.MethodPost, base+"/end", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end: status %d, body %s", w.Code, w.Body.String())
	}
	ended := decodeSession(t, w)
	if ended.State != calls.StateEnded || ended.EndReason != "normal" {
		t.Fatalf("unexpected terminal session: %+v", ended)
	}

	// Repeat end is a 200 returning the same terminal record.
	again := decodeSession(t, api.do(t, "alice", http.MethodPost, base+"/end", ""))
	if !again.EndedAt.Equal(*ended.EndedAt) {
		t.Fatalf("repeat end changed ended_at")
	}
}

func TestDeclineOnActive_ConflictCarriesCurrentState(t *testing.T) {
	api := newTestAPI(t)

	s := decodeSession(t, api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`))
	base := "/v1/calls/" + s.CallID
	api.do(t, "bob", http.MethodPost, base+"/accept", "")
	api.do(t, "bob", http.MethodPost, base+"/status", `{"status":"active"}`)

	w := api.do(t, "bob", http.MethodPost, base+"/decline", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Error string        `json:"error"`
		Call  calls.Session `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if resp.Error != "invalid_state_transition" {
		t.Fatalf("error %q, want invalid_state_transition", resp.Error)
	}
	if resp.Call.State != calls.StateActive {
		t.Fatalf("conflict carries state %s, want active", resp.Call.State)
	}
}

func TestGetCall_Authorization(t *testing.T) {
	api := newTestAPI(t)

	s := decodeSession(t, api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`))

	if w := api.do(t, "bob", http.MethodGet, "/v1/calls/"+s.CallID, ""); w.Code != http.StatusOK {
		t.Fatalf("participant read: status %d", w.Code)
	}
	if w := api.do(t, "mallory", http.MethodGet, "/v1/calls/"+s.CallID, ""); w.Code != http.StatusForbidden {
		t.Fatalf("outsider read: status %d, want 403", w.Code)
	}
	if w := api.do(t, "alice", http.MethodGet, "/v1/calls/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing call: status %d, want 404", w.Code)
	}
}

func TestActiveCall(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "alice", http.MethodGet, "/v1/calls/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Active bool           `json:"active"`
		Call   *calls.Session `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Active {
		t.Fatalf("expected no active call")
	}

	s := decodeSession(t, api.do(t, "alice", http.MethodPost, "/v1/calls", `{"receiver_id":"bob","kind":"voice"}`))
	w = api.do(t, "alice", http.MethodGet, "/v1/calls/active", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Active || resp.Call == nil || resp.Call.CallID != s.CallID {
		t.Fatalf("unexpected active response: %s", w.Body.String())
	}
}

func TestListCallHistory_BadWindowParams(t *testing.T) {
	api := newTestAPI(t)

	if w := api.do(t, "alice", http.MethodGet, "/v1/calls/history?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if w := api.do(t, "alice", http.MethodGet, "/v1/calls/history?limit=-3", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if w := api.do(t, "alice", http.MethodGet, "/v1/calls/history", ""); w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}

func TestRunSweep(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "admin", http.MethodPost, "/v1/admin/calls/sweep", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var stats calls.SweepStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Scanned != 0 {
		t.Fatalf("fresh store swept %d sessions", stats.Scanned)
	}
}
