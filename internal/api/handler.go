package api

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"storefront-api/internal/google"
	"storefront-api/internal/model"
	"storefront-api/internal/service"
)

const maxAvatarUploadSize = 5 << 20

// GoogleVerifier abstracts credential verification so handlers can be
// tested without Google's key endpoints. *google.Verifier satisfies it.
type GoogleVerifier interface {
	Verify(ctx context.Context, credential string) (*google.Identity, error)
}

type AuthHandler struct {
	authService service.AuthService
	// nil when GOOGLE_CLIENT_ID is unset; the endpoint then answers 500.
	verifier GoogleVerifier
	validate *validator.Validate
}

func NewAuthHandler(authService service.AuthService, verifier GoogleVerifier) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		verifier:    verifier,
		validate:    validator.New(),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type GoogleLoginRequest struct {
	Credential string `json:"credential" validate:"required"`
}

type UpdateNameRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var request RegisterRequest

	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON", "details": err.Error()})
	}

	if err := h.validate.Struct(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}

	user, tok, err := h.authService.Register(c.Context(), request.Email, request.Password, request.Name)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
		}
		slog.Error("registration failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not register user"})
	}

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: tok, User: user})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var request LoginRequest

	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON", "details": err.Error()})
	}

	if err := h.validate.Struct(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}

	user, tok, err := h.authService.Login(c.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			body := fiber.Map{"error": "Invalid email or password"}
			if errors.Is(err, service.ErrExternalOnly) {
				body["hint"] = "This account signs in with Google"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(body)
		}
		slog.Error("login failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not log in"})
	}

	return c.Status(fiber.StatusOK).JSON(AuthResponse{Token: tok, User: user})
}

func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	if h.verifier == nil {
		slog.Error("google login rejected: GOOGLE_CLIENT_ID is not set")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Google sign-in is not configured"})
	}

	var request GoogleLoginRequest

	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON", "details": err.Error()})
	}

	if err := h.validate.Struct(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing credential"})
	}

	ident, err := h.verifier.Verify(c.Context(), request.Credential)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid Google credential"})
	}

	user, tok, err := h.authService.LoginWithGoogle(c.Context(), ident)
	if err != nil {
		slog.Error("google login failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not log in with Google"})
	}

	return c.Status(fiber.StatusOK).JSON(AuthResponse{Token: tok, User: user})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	current, err := CurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	// GetProfile re-runs the role elevator so allow-list changes land on
	// the next fetch, not on a deploy-time migration.
	user, err := h.authService.GetProfile(c.Context(), current.ID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
		slog.Error("profile fetch failed", "user_id", current.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not fetch profile"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user": user})
}

func (h *AuthHandler) UploadAvatar(c *fiber.Ctx) error {
	current, err := CurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing image file"})
	}

	if fileHeader.Size > maxAvatarUploadSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Image exceeds the 5MB limit"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot read image file"})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarUploadSize+1))
	if err != nil || len(data) > maxAvatarUploadSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot read image file"})
	}

	user, err := h.authService.UpdateAvatar(c.Context(), current.ID, data)
	if err != nil {
		slog.Error("avatar upload failed", "user_id", current.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not update avatar"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user": user})
}

func (h *AuthHandler) UpdateUsername(c *fiber.Ctx) error {
	current, err := CurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var request UpdateNameRequest

	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON", "details": err.Error()})
	}

	if err := h.validate.Struct(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}

	user, err := h.authService.UpdateName(c.Context(), current.ID, request.Name)
	if err != nil {
		slog.Error("username update failed", "user_id", current.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not update username"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"user": user})
}
