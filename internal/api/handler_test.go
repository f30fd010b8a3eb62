package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-api/internal/api"
	"storefront-api/internal/google"
	"storefront-api/internal/model"
	"storefront-api/internal/service"
	"storefront-api/internal/token"

	"github.com/gofiber/fiber/v2"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

// fakeAuthService keeps accounts in memory; passwords are compared in
// plain text since hashing is covered by the service tests.
type fakeAuthService struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*model.User
	tokens *token.Service
}

func newFakeAuthService(tokens *token.Service) *fakeAuthService {
	return &fakeAuthService{byID: map[uuid.UUID]*model.User{}, tokens: tokens}
}

func (f *fakeAuthService) findByEmail(email string) *model.User {
	for _, u := range f.byID {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (f *fakeAuthService) Register(_ context.Context, email, password, name string) (*model.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	normalized := model.NormalizeEmail(email)
	if f.findByEmail(normalized) != nil {
		return nil, "", service.ErrEmailTaken
	}

	hash := password
	user := &model.User{
		ID: uuid.New(), Email: normalized, Name: name, PasswordHash: &hash,
		Provider: model.ProviderLocal, Role: model.RoleUser,
	}
	f.byID[user.ID] = user

	tok, err := f.tokens.Issue(user.ID)
	return user, tok, err
}

func (f *fakeAuthService) Login(_ context.Context, email, password string) (*model.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user := f.findByEmail(model.NormalizeEmail(email))
	if user == nil {
		return nil, "", service.ErrInvalidCredentials
	}
	if user.PasswordHash == nil {
		return nil, "", service.ErrExternalOnly
	}
	if *user.PasswordHash != password {
		return nil, "", service.ErrInvalidCredentials
	}

	tok, err := f.tokens.Issue(user.ID)
	return user, tok, err
}

func (f *fakeAuthService) LoginWithGoogle(_ context.Context, ident *google.Identity) (*model.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user := f.findByEmail(model.NormalizeEmail(ident.Email))
	if user == nil {
		user = &model.User{
			ID: uuid.New(), Email: model.NormalizeEmail(ident.Email), Name: ident.Name,
			GoogleID: &ident.GoogleID, Provider: model.ProviderGoogle,
			IsVerified: true, Role: model.RoleUser,
		}
		f.byID[user.ID] = user
	}

	tok, err := f.tokens.Issue(user.ID)
	return user, tok, err
}

func (f *fakeAuthService) GetProfile(_ context.Context, userID uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.byID[userID]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeAuthService) UpdateAvatar(_ context.Context, userID uuid.UUID, _ []byte) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.byID[userID]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	hosted := "http://storage.test/bucket/avatar-" + userID.String() + ".png"
	user.AvatarURL = &hosted
	return user, nil
}

func (f *fakeAuthService) UpdateName(_ context.Context, userID uuid.UUID, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.byID[userID]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	user.Name = name
	return user, nil
}

// userRepoAdapter exposes the fake's accounts through the repository
// interface so AuthMiddleware can hydrate requests.
type userRepoAdapter struct{ svc *fakeAuthService }

func (a *userRepoAdapter) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	a.svc.mu.Lock()
	defer a.svc.mu.Unlock()
	u, ok := a.svc.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (a *userRepoAdapter) Create(context.Context, *model.User) (uuid.UUID, error) {
	return uuid.Nil, errors.New("not implemented")
}
func (a *userRepoAdapter) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, errors.New("not implemented")
}
func (a *userRepoAdapter) FindByGoogleIDOrEmail(context.Context, string, string) (*model.User, error) {
	return nil, errors.New("not implemented")
}
func (a *userRepoAdapter) LinkGoogle(context.Context, uuid.UUID, string, *string) error {
	return errors.New("not implemented")
}
func (a *userRepoAdapter) UpdateAvatar(context.Context, uuid.UUID, string) error {
	return errors.New("not implemented")
}
func (a *userRepoAdapter) UpdateName(context.Context, uuid.UUID, string) error {
	return errors.New("not implemented")
}
func (a *userRepoAdapter) UpdateRole(context.Context, uuid.UUID, model.Role) error {
	return errors.New("not implemented")
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, credential string) (*google.Identity, error) {
	if credential != "good-credential" {
		return nil, errors.New("verification failed")
	}
	return &google.Identity{GoogleID: "g-1", Email: "bob@example.com", Name: "Bob", EmailVerified: true}, nil
}

type adminOnlyContent struct{}

func (adminOnlyContent) Register(_, _, admin fiber.Router) {
	admin.Get("/dashboard", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

type testServer struct {
	app    *fiber.App
	svc    *fakeAuthService
	tokens *token.Service
}

func newTestServer(t *testing.T, verifier api.GoogleVerifier) *testServer {
	t.Helper()
	tokens := token.NewService(testSecret)
	svc := newFakeAuthService(tokens)
	handler := api.NewAuthHandler(svc, verifier)

	app := fiber.New()
	api.MountRoutes(app, handler, tokens, &userRepoAdapter{svc: svc}, adminOnlyContent{})

	return &testServer{app: app, svc: svc, tokens: tokens}
}

func jsonRequest(method, target string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func TestRegister_Created(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	require.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	require.Equal(t, "alice@example.com", user["email"])
	require.Equal(t, "user", user["role"])
	_, leaked := user["passwordHash"]
	require.False(t, leaked)
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	first, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, first.StatusCode)

	second, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "other-pass-2", "name": "Alice Again",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, second.StatusCode)
}

func TestRegister_MissingFields(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLogin_UndifferentiatedUnauthorized(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	_, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)

	unknown, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/login", fiber.Map{
		"email": "nobody@example.com", "password": "whatever",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, unknown.StatusCode)
	unknownBody := decodeBody(t, unknown)

	wrong, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/login", fiber.Map{
		"email": "alice@example.com", "password": "wrong",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, wrong.StatusCode)
	wrongBody := decodeBody(t, wrong)

	// no account-enumeration leak
	require.Equal(t, unknownBody["error"], wrongBody["error"])
}

func TestGoogleLogin_NotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/google", fiber.Map{
		"credential": "good-credential",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGoogleLogin_MissingCredential(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/google", fiber.Map{}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGoogleLogin_BadCredential(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/google", fiber.Map{
		"credential": "forged",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGoogleLogin_Success(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/google", fiber.Map{
		"credential": "good-credential",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	require.Equal(t, "bob@example.com", user["email"])
	require.Equal(t, "google", user["provider"])
	require.Equal(t, true, user["is_verified"])
}

func TestMe_RequiresToken(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMe_Success(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	tok := decodeBody(t, registered)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	user := decodeBody(t, resp)["user"].(map[string]any)
	require.Equal(t, "alice@example.com", user["email"])
	require.Equal(t, "user", user["role"])
}

func TestMe_ExpiredToken(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	claims := jwtv5.MapClaims{
		"sub": uuid.New().String(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	expired, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Token has expired", decodeBody(t, resp)["error"])
}

func TestUpdateUsername_Validation(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	tok := decodeBody(t, registered)["token"].(string)

	tooShort := jsonRequest(http.MethodPut, "/v1/auth/username", fiber.Map{"name": "A"})
	tooShort.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(tooShort)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	ok := jsonRequest(http.MethodPut, "/v1/auth/username", fiber.Map{"name": "Alice Cooper"})
	ok.Header.Set("Authorization", "Bearer "+tok)
	resp, err = ts.app.Test(ok)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "Alice Cooper", decodeBody(t, resp)["user"].(map[string]any)["name"])
}

func TestUploadAvatar(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	tok := decodeBody(t, registered)["token"].(string)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "avatar.png")
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader("fake-png-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/avatar", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	user := decodeBody(t, resp)["user"].(map[string]any)
	require.Contains(t, user["avatar_url"], "avatar-")
}

func TestUploadAvatar_MissingFile(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	tok := decodeBody(t, registered)["token"].(string)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdminGroup_ForbiddenForPlainUser(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "secret-pass-1", "name": "Alice",
	}))
	require.NoError(t, err)
	tok := decodeBody(t, registered)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestAdminGroup_AllowsAdmin(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	registered, err := ts.app.Test(jsonRequest(http.MethodPost, "/v1/auth/register", fiber.Map{
		"email": "boss@example.com", "password": "secret-pass-1", "name": "Boss",
	}))
	require.NoError(t, err)
	body := decodeBody(t, registered)
	tok := body["token"].(string)

	userID, err := uuid.Parse(body["user"].(map[string]any)["id"].(string))
	require.NoError(t, err)
	ts.svc.byID[userID].Role = model.RoleAdmin

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminGroup_NoTokenIsUnauthorizedNotForbidden(t *testing.T) {
	ts := newTestServer(t, fakeVerifier{})

	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/v1/admin/dashboard", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
