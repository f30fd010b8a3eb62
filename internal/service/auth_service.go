package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront-api/internal/events"
	"storefront-api/internal/google"
	"storefront-api/internal/images"
	"storefront-api/internal/model"
	"storefront-api/internal/repository"
	"storefront-api/internal/token"
)

var (
	// ErrInvalidCredentials is the single error for every local-login
	// failure branch. Collapsing "no such email", "wrong password" and
	// "no password set" prevents account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrExternalOnly still satisfies errors.Is(..., ErrInvalidCredentials)
	// but lets the handler attach a hint for accounts that can only sign
	// in through Google.
	ErrExternalOnly = fmt.Errorf("%w: this account signs in with google", ErrInvalidCredentials)

	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

const (
	avatarSize = 400
	kindAvatar = "avatar"
)

var avatarOptions = images.Options{
	MaxWidth:  avatarSize,
	MaxHeight: avatarSize,
	Fit:       images.FitCover,
	Kind:      kindAvatar,
}

// AvatarIngestor is the slice of the image pipeline the resolver needs.
// *images.Ingestor satisfies it.
type AvatarIngestor interface {
	IngestURL(ctx context.Context, sourceURL, ownerKey string, opts images.Options) string
	IngestBytes(ctx context.Context, data []byte, ownerKey string, opts images.Options) (string, error)
	Hosts(url string) bool
}

type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*model.User, string, error)
	Login(ctx context.Context, email, password string) (*model.User, string, error)
	LoginWithGoogle(ctx context.Context, ident *google.Identity) (*model.User, string, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.User, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, data []byte) (*model.User, error)
	UpdateName(ctx context.Context, userID uuid.UUID, name string) (*model.User, error)
}

type authService struct {
	users     repository.UserRepository
	tokens    *token.Service
	roles     *RoleElevator
	avatars   AvatarIngestor
	publisher events.Publisher
}

func NewAuthService(
	users repository.UserRepository,
	tokens *token.Service,
	roles *RoleElevator,
	avatars AvatarIngestor,
	publisher events.Publisher,
) AuthService {
	return &authService{
		users:     users,
		tokens:    tokens,
		roles:     roles,
		avatars:   avatars,
		publisher: publisher,
	}
}

func (s *authService) Register(ctx context.Context, email, password, name string) (*model.User, string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	normalized := model.NormalizeEmail(email)
	hash := string(hashedPassword)
	user := &model.User{
		Email:        normalized,
		Name:         name,
		PasswordHash: &hash,
		Provider:     model.ProviderLocal,
		Role:         s.roles.Decide(normalized, model.RoleUser),
	}

	newID, err := s.users.Create(ctx, user)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", err
	}
	user.ID = newID

	if err := s.publisher.PublishUserRegistered(user); err != nil {
		slog.Warn("failed to publish user.registered", "user_id", user.ID, "error", err)
	}

	tok, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, tok, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if user.PasswordHash == nil {
		return nil, "", ErrExternalOnly
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	s.roles.ElevateIfNeeded(ctx, user)

	tok, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, tok, nil
}

// LoginWithGoogle resolves a provider-verified payload to the canonical
// user record: finds by google id or email, links a matching local
// account, or creates a fresh one. The token is minted only once a
// persisted, fully-identified user exists.
func (s *authService) LoginWithGoogle(ctx context.Context, ident *google.Identity) (*model.User, string, error) {
	user, err := s.resolveGoogle(ctx, ident, true)
	if err != nil {
		return nil, "", err
	}

	s.roles.ElevateIfNeeded(ctx, user)

	tok, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, tok, nil
}

func (s *authService) resolveGoogle(ctx context.Context, ident *google.Identity, retryOnConflict bool) (*model.User, error) {
	email := model.NormalizeEmail(ident.Email)

	user, err := s.users.FindByGoogleIDOrEmail(ctx, ident.GoogleID, email)
	if err == nil {
		if user.GoogleID == nil {
			return s.linkGoogle(ctx, user, ident)
		}
		s.refreshAvatar(ctx, user, ident.Picture)
		return user, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	created, err := s.createFromGoogle(ctx, ident, email)
	if repository.IsUniqueViolation(err) && retryOnConflict {
		// Lost the race against a concurrent first login for the same
		// email: the unique index is the serialization point, so re-run
		// the lookup-and-link path instead of failing the request.
		return s.resolveGoogle(ctx, ident, false)
	}
	if err != nil {
		return nil, err
	}

	return created, nil
}

// linkGoogle merges a verified Google identity into an existing local-only
// account. The stored password hash is untouched so the user keeps both
// sign-in methods.
func (s *authService) linkGoogle(ctx context.Context, user *model.User, ident *google.Identity) (*model.User, error) {
	var hosted *string
	tempKey := uuid.NewString()
	if ident.Picture != "" {
		url := s.avatars.IngestURL(ctx, ident.Picture, tempKey, avatarOptions)
		hosted = &url
	}

	if err := s.users.LinkGoogle(ctx, user.ID, ident.GoogleID, hosted); err != nil {
		return nil, err
	}

	user.GoogleID = &ident.GoogleID
	user.Provider = model.ProviderGoogle
	user.IsVerified = true
	if hosted != nil {
		user.AvatarURL = hosted
	}

	s.settleAvatar(ctx, user, ident.Picture, tempKey)

	if err := s.publisher.PublishUserLinked(user); err != nil {
		slog.Warn("failed to publish user.linked", "user_id", user.ID, "error", err)
	}

	return user, nil
}

func (s *authService) createFromGoogle(ctx context.Context, ident *google.Identity, email string) (*model.User, error) {
	// The database assigns the id, so the first ingest runs under a
	// temporary owner key; settleAvatar re-keys it once the id is known.
	tempKey := uuid.NewString()
	var hosted *string
	if ident.Picture != "" {
		url := s.avatars.IngestURL(ctx, ident.Picture, tempKey, avatarOptions)
		hosted = &url
	}

	user := &model.User{
		Email:      email,
		Name:       ident.Name,
		GoogleID:   &ident.GoogleID,
		AvatarURL:  hosted,
		Provider:   model.ProviderGoogle,
		IsVerified: true,
		Role:       s.roles.Decide(email, model.RoleUser),
	}

	newID, err := s.users.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	user.ID = newID

	s.settleAvatar(ctx, user, ident.Picture, tempKey)

	if err := s.publisher.PublishUserRegistered(user); err != nil {
		slog.Warn("failed to publish user.registered", "user_id", user.ID, "error", err)
	}

	return user, nil
}

// settleAvatar is the best-effort second phase of the two-phase naming
// scheme: once the real id exists, re-ingest under it and swap the URL.
// The temp-keyed object stays valid if any step fails, so nothing here
// returns an error.
func (s *authService) settleAvatar(ctx context.Context, user *model.User, source, tempKey string) {
	if source == "" || user.AvatarURL == nil || !strings.Contains(*user.AvatarURL, tempKey) {
		return
	}

	final := s.avatars.IngestURL(ctx, source, user.ID.String(), avatarOptions)
	if final == source {
		return
	}

	if err := s.users.UpdateAvatar(ctx, user.ID, final); err != nil {
		slog.Warn("failed to re-key avatar", "user_id", user.ID, "error", err)
		return
	}
	user.AvatarURL = &final
}

// refreshAvatar lazily re-ingests an already-linked account's picture.
// Once the avatar lives in the owned bucket it is left alone; only a
// missing avatar or a changed third-party URL triggers work.
func (s *authService) refreshAvatar(ctx context.Context, user *model.User, picture string) {
	if picture == "" {
		return
	}
	if user.AvatarURL != nil && (s.avatars.Hosts(*user.AvatarURL) || *user.AvatarURL == picture) {
		return
	}

	hosted := s.avatars.IngestURL(ctx, picture, user.ID.String(), avatarOptions)
	if user.AvatarURL != nil && hosted == *user.AvatarURL {
		return
	}

	if err := s.users.UpdateAvatar(ctx, user.ID, hosted); err != nil {
		slog.Warn("failed to refresh avatar", "user_id", user.ID, "error", err)
		return
	}
	user.AvatarURL = &hosted
}

func (s *authService) GetProfile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	s.roles.ElevateIfNeeded(ctx, user)

	return user, nil
}

func (s *authService) UpdateAvatar(ctx context.Context, userID uuid.UUID, data []byte) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	hosted, err := s.avatars.IngestBytes(ctx, data, userID.String(), avatarOptions)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateAvatar(ctx, userID, hosted); err != nil {
		return nil, err
	}
	user.AvatarURL = &hosted

	return user, nil
}

func (s *authService) UpdateName(ctx context.Context, userID uuid.UUID, name string) (*model.User, error) {
	if err := s.users.UpdateName(ctx, userID, name); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}
