package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/media"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository/sqlite"
	"github.com/tinkapp/tink/internal/scope"
)

// testAPI is a router over real managers on an in-memory database. The
// device is picked with the X-Device header instead of a signed token.
type testAPI struct {
	router   *chi.Mux
	db       *sqlite.DB
	registry *scope.Registry
	mail     *captureMailer
}

// captureMailer keeps the last reset link instead of sending it.
type captureMailer struct {
	mu   sync.Mutex
	link string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link = link
	return nil
}

func (m *captureMailer) token(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := url.Parse(m.link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token, "no reset link was sent")
	return token
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idTokens, err := auth.NewTokenService("test-secret-0123456789", auth.IssuerID, time.Hour)
	require.NoError(t, err)
	resetTokens, err := auth.NewTokenService("test-secret-0123456789", auth.IssuerReset, time.Hour)
	require.NoError(t, err)

	mail := &captureMailer{}
	provider := auth.NewLocalProvider(auth.LocalProviderConfig{
		Accounts:    db,
		Passwords:   auth.NewPasswordServiceForTest(4),
		IDTokens:    idTokens,
		ResetTokens: resetTokens,
		Mailer:      mail,
		ResetURL:    "http://localhost/reset",
		Logger:      logger,
	})
	host, err := media.NewLocalDir(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)

	reg := scope.NewRegistry(scope.Deps{
		Users:      db,
		Skills:     db,
		Categories: db,
		Chats:      db,
		ChatFeed:   db,
		Provider:   provider,
		Media:      host,
		KV:         db.KV(),
		Logger:     logger,
	})
	t.Cleanup(reg.Close)

	streamer := NewStreamer(nil, logger)
	authH := NewAuthHandler(reg, auth.NewFederation(), streamer, false, logger)
	sessionH := NewSessionHandler(reg, streamer, logger)
	profile := NewProfileHandler(reg, logger)
	catalog := NewCatalogHandler(reg, logger)
	chats := NewChatHandler(reg, streamer, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Device"); id != "" {
				r = r.WithContext(auth.WithDeviceID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/auth/state", authH.HandleState)
	r.Post("/api/auth/signin", authH.HandleSignIn)
	r.Post("/api/auth/signup", authH.HandleSignUp)
	r.Post("/api/auth/reset", authH.HandleResetPassword)
	r.Post("/api/auth/reset/confirm", authH.HandleConfirmReset)
	r.Post("/api/auth/signout", authH.HandleSignOut)
	r.Post("/api/auth/reauthenticate", authH.HandleReauthenticate)
	r.Get("/api/auth/{provider}/login", authH.HandleFederatedLogin)
	r.Get("/api/auth/{provider}/callback", authH.HandleFederatedCallback)
	r.Get("/api/session", sessionH.HandleGet)
	r.Put("/api/session/preferences", sessionH.HandlePreferences)
	r.Put("/api/profile", profile.HandleUpdate)
	r.Put("/api/profile/image", profile.HandleUploadImage)
	r.Delete("/api/account", profile.HandleDeleteAccount)
	r.Get("/api/categories", catalog.HandleCategories)
	r.Get("/api/skills", catalog.HandleList)
	r.Get("/api/skills/mine", catalog.HandleMine)
	r.Post("/api/skills", catalog.HandleCreate)
	r.Put("/api/skills/{id}", catalog.HandleUpdate)
	r.Delete("/api/skills/{id}", catalog.HandleDelete)
	r.Get("/api/chats", chats.HandleList)
	r.Post("/api/chats", chats.HandleCreate)
	r.Post("/api/chats/{id}/messages", chats.HandleSend)

	return &testAPI{router: r, db: db, registry: reg, mail: mail}
}

// do sends a JSON request as device and returns the recorder.
func (a *testAPI) do(t *testing.T, device, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set("X-Device", device)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// signUp creates an account on device and returns the new user.
func (a *testAPI) signUp(t *testing.T, device, email string) model.User {
	t.Helper()
	rr := a.do(t, device, http.MethodPost, "/api/auth/signup", map[string]string{
		"email": email, "password": "secret123", "passwordRepeat": "secret123",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp StateResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.User)
	return *resp.User
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

func seedCategory(t *testing.T, db *sqlite.DB, c model.Category) {
	t.Helper()
	require.NoError(t, db.UpsertCategory(context.Background(), &c))
}

// ===== RESPONSE TESTS =====

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.ValidationFailed("name", "name is required"), http.StatusBadRequest, "validation_error"},
		{"not found", fmt.Errorf("wrapped: %w", apperror.NotFound("skill", "s1")), http.StatusNotFound, "not_found"},
		{"forbidden", apperror.Forbidden("no"), http.StatusForbidden, "forbidden"},
		{"conflict", apperror.Conflict("chat", "c1"), http.StatusConflict, "conflict"},
		{"unauthenticated", apperror.Unauthenticated("do that"), http.StatusUnauthorized, "unauthenticated"},
		{"remote", apperror.Remote("load skills", errors.New("disk")), http.StatusBadGateway, "remote_error"},
		{"empty email", apperror.NewAuthError(apperror.KindEmptyEmail), http.StatusBadRequest, "empty_email"},
		{"wrong password", apperror.NewAuthError(apperror.KindWrongPassword), http.StatusUnauthorized, "wrong_password"},
		{"user not found", apperror.NewAuthError(apperror.KindUserNotFound), http.StatusNotFound, "user_not_found"},
		{"network", apperror.NewAuthError(apperror.KindNetwork), http.StatusServiceUnavailable, "network_error"},
		{"custom", apperror.CustomAuthError("email in use", nil), http.StatusBadRequest, "custom"},
		{"unknown", errors.New("sql: boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rr).Error)
		})
	}
}

func TestWriteError_HidesInternalText(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("sqlite: no such table: skills"))
	assert.NotContains(t, rr.Body.String(), "sqlite")
}

// ===== AUTH TESTS =====

func TestHandlers_RequireDevice(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, "", http.MethodGet, "/api/auth/state", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_StateStartsSignedOut(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, "d1", http.MethodGet, "/api/auth/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "not_authenticated", resp["state"])
	assert.Nil(t, resp["user"])
}

func TestAuth_SignInValidation(t *testing.T) {
	api := newTestAPI(t)
	tests := []struct {
		name     string
		body     map[string]string
		wantType string
	}{
		{"blank email", map[string]string{"email": " ", "password": "x"}, "empty_email"},
		{"blank password", map[string]string{"email": "a@b.co", "password": ""}, "empty_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, "d1", http.MethodPost, "/api/auth/signin", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rr).Error)
		})
	}
}

func TestAuth_SignUpMismatch(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, "d1", http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "a@b.co", "password": "secret123", "passwordRepeat": "secret124",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "password_mismatch", decodeError(t, rr).Error)
}

func TestAuth_SignUpSignOutSignIn(t *testing.T) {
	api := newTestAPI(t)
	user := api.signUp(t, "d1", "juan@example.com")
	assert.Equal(t, "juan", user.Name)

	rr := api.do(t, "d1", http.MethodPost, "/api/auth/signout", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = api.do(t, "d1", http.MethodGet, "/api/session", nil)
	assert.Contains(t, rr.Body.String(), `"user":null`)

	rr = api.do(t, "d1", http.MethodPost, "/api/auth/signin", map[string]string{
		"email": "juan@example.com", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "wrong_password", decodeError(t, rr).Error)

	rr = api.do(t, "d1", http.MethodPost, "/api/auth/signin", map[string]string{
		"email": "juan@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"authenticated"`)
}

func TestAuth_ResetPasswordValidation(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "d1", http.MethodPost, "/api/auth/reset", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_format", decodeError(t, rr).Error)

	api.signUp(t, "d2", "ana@example.com")
	rr = api.do(t, "d1", http.MethodPost, "/api/auth/reset", map[string]string{"email": "ana@example.com"})
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestAuth_ConfirmReset(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "d1", "ana@example.com")

	rr := api.do(t, "d1", http.MethodPost, "/api/auth/reset", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	token := api.mail.token(t)

	rr = api.do(t, "d2", http.MethodPost, "/api/auth/reset/confirm", map[string]string{"token": token, "password": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "empty_field", decodeError(t, rr).Error)

	rr = api.do(t, "d2", http.MethodPost, "/api/auth/reset/confirm", map[string]string{"token": token, "password": "brand-new-pass"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	// The token is single-use.
	rr = api.do(t, "d2", http.MethodPost, "/api/auth/reset/confirm", map[string]string{"token": token, "password": "another-pass"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, "d2", http.MethodPost, "/api/auth/signin", map[string]string{
		"email": "ana@example.com", "password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_FederatedLoginUnknownProvider(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, "d1", http.MethodGet, "/api/auth/google/login", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuth_FederatedCallbackChecksState(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=c&state=forged", nil)
	req.Header.Set("X-Device", "d1")
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "expected"})
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ===== SESSION TESTS =====

func TestSession_Preferences(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "d1", http.MethodPut, "/api/session/preferences", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, "d1", http.MethodPut, "/api/session/preferences", map[string]any{"darkMode": true})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(t, "d1", http.MethodGet, "/api/session", nil)
	assert.Contains(t, rr.Body.String(), `"darkMode":true`)

	// Another device keeps its own preference.
	rr = api.do(t, "d2", http.MethodGet, "/api/session", nil)
	assert.Contains(t, rr.Body.String(), `"darkMode":false`)
}

// ===== CATALOG TESTS =====

func TestCatalog_CreateListFilter(t *testing.T) {
	api := newTestAPI(t)
	seedCategory(t, api.db, model.Category{ID: "cleaning", Name: "Limpieza", IsManual: model.BoolPtr(true)})
	seedCategory(t, api.db, model.Category{ID: "lessons", Name: "Clases"})

	api.signUp(t, "d1", "juan@example.com")

	rr := api.do(t, "d1", http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cats []model.Category
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cats))
	assert.Len(t, cats, 2)

	for _, body := range []map[string]any{
		{"name": "Limpieza a fondo", "description": "Pisos y oficinas", "price": "12", "priceUnit": "hour", "categoryId": "cleaning", "isOnline": true},
		{"name": "Clases de guitarra", "description": "Nivel inicial", "price": "15", "priceUnit": "session", "categoryId": "lessons", "isOnline": true},
		{"name": "Matemáticas", "description": "Refuerzo escolar", "price": "10", "priceUnit": "hour", "categoryId": "lessons", "isOnline": false},
	} {
		rr := api.do(t, "d1", http.MethodPost, "/api/skills", body)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	list := func(query string) []model.Skill {
		t.Helper()
		rr := api.do(t, "d1", http.MethodGet, "/api/skills"+query, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var skills []model.Skill
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&skills))
		return skills
	}

	assert.Len(t, list(""), 3)
	assert.Len(t, list("?category=lessons"), 2)
	// The cleaning category is in-person only, whatever the skill says.
	online := list("?presence=online")
	require.Len(t, online, 1)
	assert.Equal(t, "Clases de guitarra", online[0].Name)
	assert.Equal(t, "15€/sesión", online[0].Price)
	assert.Len(t, list("?presence=in_person&category=lessons"), 1)
	assert.Len(t, list("?q=GUITARRA"), 1)
	assert.Len(t, list("?q=escolar"), 1)

	rr = api.do(t, "d1", http.MethodGet, "/api/skills?presence=sometimes", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCatalog_CreateValidation(t *testing.T) {
	api := newTestAPI(t)
	seedCategory(t, api.db, model.Category{ID: "lessons", Name: "Clases"})

	rr := api.do(t, "d1", http.MethodPost, "/api/skills", map[string]any{
		"name": "x", "description": "y", "price": "1", "priceUnit": "hour", "categoryId": "lessons",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "creating requires a session")

	api.signUp(t, "d1", "juan@example.com")
	tests := []struct {
		name      string
		body      map[string]any
		wantField string
	}{
		{"unknown category", map[string]any{"name": "x", "description": "y", "price": "1", "priceUnit": "hour", "categoryId": "nope"}, "categoryId"},
		{"bad unit", map[string]any{"name": "x", "description": "y", "price": "1", "priceUnit": "week", "categoryId": "lessons"}, "priceUnit"},
		{"empty name", map[string]any{"name": "", "description": "y", "price": "1", "priceUnit": "hour", "categoryId": "lessons"}, "name"},
		{"empty price", map[string]any{"name": "x", "description": "y", "price": " ", "priceUnit": "hour", "categoryId": "lessons"}, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, "d1", http.MethodPost, "/api/skills", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantField, decodeError(t, rr).Field)
		})
	}
}

func TestCatalog_DeleteLeavesAllUntilRefresh(t *testing.T) {
	api := newTestAPI(t)
	seedCategory(t, api.db, model.Category{ID: "lessons", Name: "Clases"})
	api.signUp(t, "d1", "juan@example.com")

	rr := api.do(t, "d1", http.MethodPost, "/api/skills", map[string]any{
		"name": "Guitarra", "description": "Clases", "price": "15", "priceUnit": "hour", "categoryId": "lessons",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created model.Skill
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	rr = api.do(t, "d1", http.MethodGet, "/api/skills", nil)
	require.Contains(t, rr.Body.String(), created.ID)

	rr = api.do(t, "d1", http.MethodDelete, "/api/skills/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(t, "d1", http.MethodGet, "/api/skills/mine", nil)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = api.do(t, "d1", http.MethodGet, "/api/skills", nil)
	assert.Contains(t, rr.Body.String(), created.ID, "all skills keep the deleted one until the next sync")

	rr = api.do(t, "d1", http.MethodGet, "/api/skills?refresh=true", nil)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestCatalog_UpdateOwnSkillOnly(t *testing.T) {
	api := newTestAPI(t)
	seedCategory(t, api.db, model.Category{ID: "lessons", Name: "Clases"})
	api.signUp(t, "d1", "juan@example.com")
	api.signUp(t, "d2", "ana@example.com")

	rr := api.do(t, "d1", http.MethodPost, "/api/skills", map[string]any{
		"name": "Guitarra", "description": "Clases", "price": "15", "priceUnit": "hour", "categoryId": "lessons",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created model.Skill
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	update := map[string]any{"name": "Guitarra eléctrica", "description": "Clases", "price": "20", "priceUnit": "hour", "categoryId": "lessons"}

	rr = api.do(t, "d2", http.MethodPut, "/api/skills/"+created.ID, update)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = api.do(t, "d1", http.MethodPut, "/api/skills/"+created.ID, update)
	require.Equal(t, http.StatusNoContent, rr.Code)

	stored, err := api.db.GetSkill(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Guitarra eléctrica", stored.Name)
	assert.Equal(t, "20€/h", stored.Price)
}

// ===== PROFILE TESTS =====

func TestProfile_RenamePropagatesToSkills(t *testing.T) {
	api := newTestAPI(t)
	seedCategory(t, api.db, model.Category{ID: "lessons", Name: "Clases"})
	juan := api.signUp(t, "d1", "juan@example.com")
	api.signUp(t, "d2", "ana@example.com")

	for _, device := range []string{"d1", "d1", "d2"} {
		rr := api.do(t, device, http.MethodPost, "/api/skills", map[string]any{
			"name": "Clase", "description": "d", "price": "10", "priceUnit": "hour", "categoryId": "lessons",
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := api.do(t, "d1", http.MethodPut, "/api/profile", map[string]any{"name": "Juan P.", "locality": "Sevilla"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	skills, err := api.db.ListSkills(context.Background())
	require.NoError(t, err)
	for _, s := range skills {
		if s.User.ID == juan.ID {
			assert.Equal(t, "Juan P.", s.User.Name)
		} else {
			assert.Equal(t, "ana", s.User.Name)
		}
	}

	rr = api.do(t, "d1", http.MethodGet, "/api/session", nil)
	assert.Contains(t, rr.Body.String(), `"name":"Juan P."`)
	assert.Contains(t, rr.Body.String(), `"locality":"Sevilla"`)
}

func TestProfile_UploadImage(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "d1", "juan@example.com")

	// Not an image.
	req := httptest.NewRequest(http.MethodPut, "/api/profile/image", bytes.NewBufferString("hello, world"))
	req.Header.Set("X-Device", "d1")
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var img bytes.Buffer
	pic := image.NewRGBA(image.Rect(0, 0, 2, 2))
	pic.Set(0, 0, color.RGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(&img, pic))

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("image", "me.png")
	require.NoError(t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPut, "/api/profile/image", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Device", "d1")
	rr = httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var user model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	require.NotNil(t, user.ProfileImageURL)
	assert.Contains(t, *user.ProfileImageURL, media.ProfileImageID(user.ID))
}

func TestProfile_DeleteAccount(t *testing.T) {
	api := newTestAPI(t)
	juan := api.signUp(t, "d1", "juan@example.com")

	rr := api.do(t, "d1", http.MethodDelete, "/api/account", map[string]string{"password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = api.do(t, "d1", http.MethodDelete, "/api/account", map[string]string{"password": "secret123"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	_, err := api.db.GetUser(context.Background(), juan.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	rr = api.do(t, "d1", http.MethodGet, "/api/auth/state", nil)
	assert.Contains(t, rr.Body.String(), "not_authenticated")
}

// ===== CHAT TESTS =====

func TestChat_CreateIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	juan := api.signUp(t, "d1", "juan@example.com")
	ana := api.signUp(t, "d2", "ana@example.com")

	var first, second, reverse model.Chat
	rr := api.do(t, "d1", http.MethodPost, "/api/chats", map[string]string{"userId": ana.ID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&first))

	rr = api.do(t, "d1", http.MethodPost, "/api/chats", map[string]string{"userId": ana.ID})
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&second))

	rr = api.do(t, "d2", http.MethodPost, "/api/chats", map[string]string{"userId": juan.ID})
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reverse))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, reverse.ID)

	chats, err := api.db.ListChatsFor(context.Background(), juan.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestChat_SendMessage(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "d1", "juan@example.com")
	ana := api.signUp(t, "d2", "ana@example.com")
	api.signUp(t, "d3", "luis@example.com")

	rr := api.do(t, "d1", http.MethodPost, "/api/chats", map[string]string{"userId": ana.ID})
	var chat model.Chat
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&chat))

	rr = api.do(t, "d1", http.MethodPost, "/api/chats/"+chat.ID+"/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "blank text is rejected before the manager")

	rr = api.do(t, "d3", http.MethodPost, "/api/chats/"+chat.ID+"/messages", map[string]string{"text": "hola"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	for _, text := range []string{"hola", "¿qué tal?"} {
		rr = api.do(t, "d1", http.MethodPost, "/api/chats/"+chat.ID+"/messages", map[string]string{"text": text})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr = api.do(t, "d2", http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var chats []model.Chat
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&chats))
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, "hola", chats[0].Messages[0].Text)
	assert.Equal(t, "¿qué tal?", chats[0].Messages[1].Text)
	assert.False(t, chats[0].Messages[0].Received)
}

func TestChat_ListRequiresSession(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, "d1", http.MethodGet, "/api/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
