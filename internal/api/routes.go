package api

import (
	"github.com/gofiber/fiber/v2"

	"storefront-api/internal/model"
	"storefront-api/internal/repository"
	"storefront-api/internal/token"
)

// ContentRoutes is implemented by the catalog/article/comment handlers,
// which live outside this subsystem. They mount themselves behind the
// shared middleware: public gets no auth, authed gets a hydrated user,
// admin additionally requires the admin role.
type ContentRoutes interface {
	Register(public fiber.Router, authed fiber.Router, admin fiber.Router)
}

// MountRoutes wires the auth surface and hands the guarded router groups
// to the content handlers.
func MountRoutes(app *fiber.App, authHandler *AuthHandler, tokens *token.Service, users repository.UserRepository, content ContentRoutes) {
	v1 := app.Group("/v1")

	authRoutes := v1.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/google", authHandler.GoogleLogin)

	protected := authRoutes.Group("")
	protected.Use(AuthMiddleware(tokens, users))
	protected.Get("/me", authHandler.Me)
	protected.Post("/avatar", authHandler.UploadAvatar)
	protected.Put("/username", authHandler.UpdateUsername)

	if content != nil {
		authed := v1.Group("", AuthMiddleware(tokens, users))
		admin := v1.Group("/admin", AuthMiddleware(tokens, users), RequireRole(model.RoleAdmin))
		content.Register(v1, authed, admin)
	}
}
