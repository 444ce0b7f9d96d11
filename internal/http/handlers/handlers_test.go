package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/http/middleware"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
	"github.com/AppIeBanana/ZhaoSheng/internal/repo"
	"github.com/AppIeBanana/ZhaoSheng/internal/services"
	"github.com/AppIeBanana/ZhaoSheng/internal/session"
)

// ---------- fakes ----------

type fakeStore struct {
	profiles    map[string]*domain.Profile
	transcripts map[string][]domain.Message
	saveErr     error
	existsErr   error
	cacheDown   bool
	health      services.HealthStatus
	lastPhone   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    map[string]*domain.Profile{},
		transcripts: map[string][]domain.Message{},
	}
}

func (f *fakeStore) SaveProfile(_ context.Context, p *domain.Profile) (*domain.Profile, error) {
	if p == nil || !identity.Valid(p.Phone) {
		return nil, services.ErrInvalidIdentity
	}
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	rec := *p
	rec.ID = "id-" + p.Phone
	f.profiles[p.Phone] = &rec
	return &rec, nil
}

func (f *fakeStore) GetProfile(_ context.Context, phone string) (*domain.Profile, error) {
	f.lastPhone = phone
	if !identity.Valid(phone) {
		return nil, services.ErrInvalidIdentity
	}
	return f.profiles[phone], nil
}

func (f *fakeStore) ProfileExists(_ context.Context, phone string) (bool, error) {
	if !identity.Valid(phone) {
		return false, services.ErrInvalidIdentity
	}
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.profiles[phone]
	return ok, nil
}

func (f *fakeStore) ClearCache(_ context.Context, phone string) (bool, error) {
	if !identity.Valid(phone) {
		return false, services.ErrInvalidIdentity
	}
	return !f.cacheDown, nil
}

func (f *fakeStore) SaveTranscript(_ context.Context, phone string, msgs []domain.Message) error {
	if !identity.Valid(phone) {
		return services.ErrInvalidIdentity
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: %w", services.ErrWriteFailed, repo.ErrValidationFailed)
	}
	f.transcripts[phone] = msgs
	return nil
}

func (f *fakeStore) GetTranscript(_ context.Context, phone string) ([]domain.Message, error) {
	f.lastPhone = phone
	if !identity.Valid(phone) {
		return nil, services.ErrInvalidIdentity
	}
	return f.transcripts[phone], nil
}

func (f *fakeStore) Health(context.Context) services.HealthStatus { return f.health }

type fakeSessions struct {
	bound   map[string]string
	bindErr error
}

func newFakeSessions() *fakeSessions { return &fakeSessions{bound: map[string]string{}} }

func (f *fakeSessions) Bind(_ context.Context, sid, phone string) (string, error) {
	if f.bindErr != nil {
		return "", f.bindErr
	}
	if sid == "" {
		return "", session.ErrNoSession
	}
	if !identity.Valid(phone) {
		return "", session.ErrInvalidPhone
	}
	f.bound[sid] = phone
	return phone, nil
}

func (f *fakeSessions) Current(_ context.Context, sid string) (string, bool) {
	p, ok := f.bound[sid]
	return p, ok
}

func (f *fakeSessions) Unbind(_ context.Context, sid string) error {
	delete(f.bound, sid)
	return nil
}

// ---------- helpers ----------

const testSession = "session-test-0001"

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Session(middleware.SessionOptions{}))
	r.POST("/users/profile", h.SaveProfile)
	r.PUT("/users/profile", h.SaveProfile)
	r.GET("/users/profile", h.GetProfile)
	r.GET("/users/exists", h.ProfileExists)
	r.DELETE("/users/cache", h.ClearCache)
	r.POST("/chats/history", h.SaveTranscript)
	r.GET("/chats/history", h.GetTranscript)
	r.PUT("/session/phone", h.BindPhone)
	r.GET("/session/phone", h.CurrentPhone)
	r.DELETE("/session/phone", h.UnbindPhone)
	r.GET("/health", h.Health)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SessionHeader, testSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// ---------- profile ----------

func TestSaveProfile_WrappedAndFlat(t *testing.T) {
	store := newFakeStore()
	sessions := newFakeSessions()
	r := newRouter(New(store, sessions))

	w := do(t, r, http.MethodPost, "/users/profile",
		`{"userData":{"phone":"13800001111","province":"广东","score":612,"preferredMajor":"CS"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decode[SaveProfileResponse](t, w)
	if !resp.Success || resp.ID != "id-13800001111" {
		t.Fatalf("resp = %+v", resp)
	}
	got := store.profiles["13800001111"]
	if got.Province != "广东" || got.Score != "612" || got.Extra["preferredMajor"] != "CS" {
		t.Fatalf("stored = %+v", got)
	}
	if sessions.bound[testSession] != "13800001111" {
		t.Fatalf("session not bound after save: %v", sessions.bound)
	}

	w = do(t, r, http.MethodPut, "/users/profile", `{"phone":"13900002222","examType":"高考"}`)
	if w.Code != http.StatusOK || store.profiles["13900002222"].ExamType != "高考" {
		t.Fatalf("flat save: %d %s", w.Code, w.Body.String())
	}
}

func TestSaveProfile_Errors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		saveErr  error
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"userData":`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing phone", `{"userData":{"province":"广东"}}`, nil, http.StatusBadRequest, ErrCodeInvalidIdentity},
		{"bad phone", `{"userData":{"phone":"12345"}}`, nil, http.StatusBadRequest, ErrCodeInvalidIdentity},
		{"rejected record", `{"userData":{"phone":"13800001111"}}`,
			fmt.Errorf("%w: %w", services.ErrWriteFailed, repo.ErrValidationFailed), http.StatusBadRequest, ErrCodeValidationFailed},
		{"durable down", `{"userData":{"phone":"13800001111"}}`,
			fmt.Errorf("%w: %w", services.ErrWriteFailed, repo.ErrNotConnected), http.StatusInternalServerError, ErrCodeWriteFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.saveErr = tc.saveErr
			r := newRouter(New(store, nil))

			w := do(t, r, http.MethodPost, "/users/profile", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.wantCode, w.Body.String())
			}
			body := decode[map[string]any](t, w)
			if body["success"] != false || body["code"] != tc.wantErr {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestGetProfile_RecordNullAndSessionFallback(t *testing.T) {
	store := newFakeStore()
	sessions := newFakeSessions()
	r := newRouter(New(store, sessions))

	store.profiles["13800001111"] = &domain.Profile{ID: "x", Phone: "13800001111", Province: "广东"}

	w := do(t, r, http.MethodGet, "/users/profile?phone=13800001111", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if p := decode[domain.Profile](t, w); p.Province != "广东" || p.ID != "x" {
		t.Fatalf("profile = %+v", p)
	}

	w = do(t, r, http.MethodGet, "/users/profile?phone=13900002222", "")
	if w.Code != http.StatusOK || w.Body.String() != "null" {
		t.Fatalf("absent profile: %d %q", w.Code, w.Body.String())
	}

	// No phone and no binding: invalid identity.
	w = do(t, r, http.MethodGet, "/users/profile", "")
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidIdentity {
		t.Fatalf("no phone: %d %s", w.Code, w.Body.String())
	}

	sessions.bound[testSession] = "13800001111"
	w = do(t, r, http.MethodGet, "/users/profile", "")
	if w.Code != http.StatusOK || store.lastPhone != "13800001111" {
		t.Fatalf("session fallback: %d phone=%q", w.Code, store.lastPhone)
	}
}

func TestProfileExists(t *testing.T) {
	store := newFakeStore()
	r := newRouter(New(store, nil))
	store.profiles["13800001111"] = &domain.Profile{Phone: "13800001111"}

	w := do(t, r, http.MethodGet, "/users/exists?phone=13800001111", "")
	if got := decode[ExistsResponse](t, w); !got.Exists || got.Phone != "13800001111" {
		t.Fatalf("exists = %+v", got)
	}
	w = do(t, r, http.MethodGet, "/users/exists?phone=13900002222", "")
	if got := decode[ExistsResponse](t, w); got.Exists {
		t.Fatalf("exists = %+v", got)
	}

	store.existsErr = repo.ErrNotConnected
	w = do(t, r, http.MethodGet, "/users/exists?phone=13800001111", "")
	if w.Code != http.StatusServiceUnavailable || decode[ErrorResponse](t, w).Code != ErrCodeUnavailable {
		t.Fatalf("outage: %d %s", w.Code, w.Body.String())
	}
}

func TestClearCache(t *testing.T) {
	store := newFakeStore()
	r := newRouter(New(store, nil))

	w := do(t, r, http.MethodDelete, "/users/cache?phone=13800001111", "")
	if w.Code != http.StatusOK || !decode[SuccessResponse](t, w).Success {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}

	store.cacheDown = true
	w = do(t, r, http.MethodDelete, "/users/cache?phone=13800001111", "")
	if w.Code != http.StatusOK || decode[SuccessResponse](t, w).Success {
		t.Fatalf("clear with cache down: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodDelete, "/users/cache?phone=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad phone: %d", w.Code)
	}
}

// ---------- transcripts ----------

func TestTranscript_SaveAndLoad(t *testing.T) {
	store := newFakeStore()
	r := newRouter(New(store, nil))

	ts := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"phone":"13800001111","messages":[
		{"role":"user","content":"我能报哪些学校？","timestamp":%q},
		{"role":"assistant","content":"根据你的分数……","timestamp":%q}]}`,
		ts.Format(time.RFC3339), ts.Add(time.Second).Format(time.RFC3339))

	w := do(t, r, http.MethodPost, "/chats/history", body)
	if w.Code != http.StatusOK || !decode[SuccessResponse](t, w).Success {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/chats/history?phone=13800001111", "")
	msgs := decode[[]domain.Message](t, w)
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Content != "根据你的分数……" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", msgs[0].Timestamp)
	}
}

func TestTranscript_EmptyArrayNeverNull(t *testing.T) {
	r := newRouter(New(newFakeStore(), nil))
	w := do(t, r, http.MethodGet, "/chats/history?phone=13800001111", "")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("absent transcript: %d %q", w.Code, w.Body.String())
	}
}

func TestTranscript_SaveErrors(t *testing.T) {
	store := newFakeStore()
	r := newRouter(New(store, nil))

	w := do(t, r, http.MethodPost, "/chats/history", `{"phone":"13800001111","messages":[]}`)
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeValidationFailed {
		t.Fatalf("empty messages: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/chats/history", `{"phone":"1380000","messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidIdentity {
		t.Fatalf("bad phone: %d %s", w.Code, w.Body.String())
	}

	store.saveErr = fmt.Errorf("%w: %w", services.ErrWriteFailed, repo.ErrTimeout)
	w = do(t, r, http.MethodPost, "/chats/history", `{"phone":"13800001111","messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("durable failure: %d %s", w.Code, w.Body.String())
	}
	if body := decode[map[string]any](t, w); body["success"] != false || body["code"] != ErrCodeWriteFailed {
		t.Fatalf("body = %v", body)
	}
}

// ---------- session ----------

func TestSessionPhone_BindReadUnbind(t *testing.T) {
	sessions := newFakeSessions()
	r := newRouter(New(newFakeStore(), sessions))

	w := do(t, r, http.MethodGet, "/session/phone", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unbound get: %d", w.Code)
	}

	w = do(t, r, http.MethodPut, "/session/phone", `{"phone":"13800001111"}`)
	if got := decode[SessionPhoneResponse](t, w); w.Code != http.StatusOK || got.Phone != "13800001111" || got.SessionID != testSession {
		t.Fatalf("bind: %d %+v", w.Code, got)
	}

	w = do(t, r, http.MethodGet, "/session/phone", "")
	if got := decode[SessionPhoneResponse](t, w); got.Phone != "13800001111" {
		t.Fatalf("current: %+v", got)
	}

	w = do(t, r, http.MethodDelete, "/session/phone", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("unbind: %d", w.Code)
	}
	if _, ok := sessions.bound[testSession]; ok {
		t.Fatalf("binding survived unbind")
	}
}

func TestSessionPhone_BindErrors(t *testing.T) {
	sessions := newFakeSessions()
	r := newRouter(New(newFakeStore(), sessions))

	w := do(t, r, http.MethodPut, "/session/phone", `{"phone":"not-a-phone"}`)
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidIdentity {
		t.Fatalf("bad phone: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPut, "/session/phone", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing phone: %d", w.Code)
	}

	sessions.bindErr = errors.New("redis down")
	w = do(t, r, http.MethodPut, "/session/phone", `{"phone":"13800001111"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("outage: %d", w.Code)
	}

	r = newRouter(New(newFakeStore(), nil))
	w = do(t, r, http.MethodPut, "/session/phone", `{"phone":"13800001111"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled: %d", w.Code)
	}
}

// ---------- health ----------

func TestHealth_ReportsBothTiers(t *testing.T) {
	store := newFakeStore()
	store.health = services.HealthStatus{CacheConnected: false, DurableConnected: true}
	r := newRouter(New(store, nil))

	w := do(t, r, http.MethodGet, "/health", "")
	got := decode[HealthResponse](t, w)
	if w.Code != http.StatusOK || !got.Success || got.CacheConnected || !got.DurableConnected {
		t.Fatalf("health: %d %+v", w.Code, got)
	}
}
