package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/adventure/internal/middleware"
	"github.com/hitoshi/adventure/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code, acceptLanguage string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getSessionFn     func(ctx context.Context, sessionID string) (*model.User, error)
	getCurrentUserFn func(ctx context.Context, userID int64) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, acceptLanguage string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, acceptLanguage)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetSession(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:3000",
	SessionMaxAge: 86400,
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// withUserID はテスト用にセッションミドルウェアが注入するユーザーIDを設定する。
func withUserID(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// --- テスト ---

func TestAuthHandler_Login_SetsStateAndRedirects(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	state := findCookie(resp, oauthStateCookie)
	if state == nil || len(state.Value) != 32 || !state.HttpOnly {
		t.Fatalf("unexpected state cookie: %+v", state)
	}
	if loc := resp.Header.Get("Location"); !strings.HasSuffix(loc, "state="+state.Value) {
		t.Errorf("Location = %q should carry the state", loc)
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	var gotCode, gotLang string
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code, acceptLanguage string) (*model.Session, error) {
			gotCode, gotLang = code, acceptLanguage
			return &model.Session{ID: "session-123", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=valid-state", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "valid-state"})
	req.Header.Set("Accept-Language", "ja-JP")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := resp.Header.Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("Location = %q", loc)
	}
	if gotCode != "auth-code" || gotLang != "ja-JP" {
		t.Errorf("HandleCallback(code=%q, lang=%q)", gotCode, gotLang)
	}

	session := findCookie(resp, middleware.SessionCookieName)
	if session == nil {
		t.Fatal("expected session cookie")
	}
	if session.Value != "session-123" || !session.HttpOnly || session.MaxAge != 86400 || session.SameSite != http.SameSiteLaxMode {
		t.Errorf("unexpected session cookie: %+v", session)
	}
	if state := findCookie(resp, oauthStateCookie); state == nil || state.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared, got %+v", state)
	}
}

func TestAuthHandler_Callback_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		cookie string
	}{
		{"state mismatch", "/auth/google/callback?code=c&state=attacker", "valid"},
		{"no state cookie", "/auth/google/callback?code=c&state=valid", ""},
		{"empty state", "/auth/google/callback?code=c&state=", ""},
		{"missing code", "/auth/google/callback?state=valid", "valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockAuthService{
				handleCallbackFn: func(context.Context, string, string) (*model.Session, error) {
					called = true
					return nil, nil
				},
			}
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			NewAuthHandler(svc, testAuthConfig).Callback(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q", body.Code)
			}
			if called {
				t.Error("HandleCallback must not be called")
			}
		})
	}
}

func TestAuthHandler_Callback_ConsentDenied_RedirectsHome(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied&state=s", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s"})
	w := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}, testAuthConfig).Callback(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", w.Code)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("no session cookie should be issued")
	}
}

func TestAuthHandler_Callback_ServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(context.Context, string, string) (*model.Session, error) {
			return nil, errors.New("token exchange failed")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s"})
	w := httptest.NewRecorder()
	NewAuthHandler(svc, testAuthConfig).Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "token exchange") {
		t.Error("internal error details must not leak")
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var deleted string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return errors.New("db down")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-123"})
	w := httptest.NewRecorder()
	NewAuthHandler(svc, testAuthConfig).Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deleted != "session-123" {
		t.Errorf("Logout called with %q", deleted)
	}
	if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared even when logout fails, got %+v", c)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	login := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, userID int64) (*model.User, error) {
			return &model.User{ID: userID, Name: "Ada", Email: "ada@example.com", Language: "en", FirstLogin: login, LastLogin: login}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/auth/me", nil), 42))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body userResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ID != 42 || body.Name != "Ada" || !body.FirstLogin.Equal(login) {
		t.Errorf("body = %+v", body)
	}

	w = httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without session = %d, want 401", w.Code)
	}
}

func TestAuthHandler_Session(t *testing.T) {
	svc := &mockAuthService{
		getSessionFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			if sessionID == "live" {
				return &model.User{ID: 9}, nil
			}
			if sessionID == "broken" {
				return nil, errors.New("db down")
			}
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	tests := []struct {
		name       string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{"live session", "live", http.StatusOK, `{"user":{"dbId":9}}`},
		{"unknown session", "gone", http.StatusOK, `null`},
		{"no cookie", "", http.StatusOK, `null`},
		{"repository error", "broken", http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Session(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && strings.TrimSpace(w.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}
