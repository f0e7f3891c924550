package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/majid78715/Jira-V1-sub001/internal/collab"
	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
)

func newTestRouter() (*gin.Engine, *hub.Hub) {
	gin.SetMode(gin.TestMode)
	h := hub.New(collab.NewMemoryMembership(), collab.LogActivity{}, collab.LogNotifier{}, collab.NewMemoryAttachments())
	cfg := &config.Config{
		Mode:        "release",
		Secret:      "test-secret",
		SessionName: "TestSession",
		StaticPath:  ".",
	}
	return SetupRouter(context.Background(), cfg, h), h
}

// login issues a request that sets the session cookie, mirroring what the
// host product's auth layer does.
func login(t *testing.T, r *gin.Engine, user string) []*http.Cookie {
	t.Helper()
	r.GET("/test/login/"+user, func(c *gin.Context) {
		sess := sessions.Default(c)
		sess.Set("user_id", user)
		if err := sess.Save(); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test/login/"+user, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	return w.Result().Cookies()
}

func TestAPIRejectsAnonymous(t *testing.T) {
	r, _ := newTestRouter()
	for _, path := range []string{"/api/calls", "/api/presence", "/api/ice", "/api/ws/signal"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, w.Code)
		}
	}
}

func TestCallIntrospection(t *testing.T) {
	r, h := newTestRouter()
	cookies := login(t, r, "alice")

	h.Sessions.Create("room-1", "alice", domain.MediaAudio)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Sessions []hub.SessionSnapshot `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "room-1" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/calls/room-1", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("single call status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/calls/nope", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d, want 404", w.Code)
	}
}
