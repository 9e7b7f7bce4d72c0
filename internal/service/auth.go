package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authcore/backend/internal/config"
	"github.com/authcore/backend/internal/db"
	"github.com/authcore/backend/internal/model"
	"github.com/authcore/backend/internal/token"
)

const (
	refreshCookieName = "refreshToken"
	minPasswordLength = 8
)

var (
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMisconfigured      = errors.New("auth config invalid")
)

// ValidationError carries field-level detail back to the handler.
type ValidationError struct {
	Details []model.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// UserStore is the user-record surface of the credential store.
type UserStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string, role model.Role) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

// AuthService ties the password hasher, access-token codec, and refresh
// manager together into the signup/login/refresh/logout operations.
type AuthService struct {
	users      UserStore
	refresh    *RefreshManager
	codec      *token.Codec
	bcryptCost int
	cookieCfg  CookieConfig
}

func NewAuthService(users UserStore, store RefreshTokenStore, cfg config.AuthConfig) (*AuthService, error) {
	if cfg.AccessTokenSecret == "" {
		return nil, fmt.Errorf("%w: ACCESS_TOKEN_SECRET is required", ErrMisconfigured)
	}

	accessTTL, err := parseDuration(cfg.AccessTokenTTL, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ACCESS_TOKEN_TTL", ErrMisconfigured)
	}

	refreshTTL, err := parseDuration(cfg.RefreshTokenTTL, 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REFRESH_TOKEN_TTL", ErrMisconfigured)
	}

	cookieSecure, err := parseBool(cfg.CookieSecure, false)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite, cookieSecure)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}

	bcryptCost := 0
	if strings.TrimSpace(cfg.BcryptCost) != "" {
		bcryptCost, err = strconv.Atoi(cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid BCRYPT_COST", ErrMisconfigured)
		}
	}

	codec, err := token.NewCodec(cfg.AccessTokenSecret, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/"
	}

	return &AuthService{
		users:      users,
		refresh:    NewRefreshManager(store, refreshTTL),
		codec:      codec,
		bcryptCost: bcryptCost,
		cookieCfg: CookieConfig{
			Name:     refreshCookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
			MaxAge:   int(refreshTTL.Seconds()),
		},
	}, nil
}

func (s *AuthService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

func (s *AuthService) Codec() *token.Codec {
	return s.codec
}

func (s *AuthService) Refresher() *RefreshManager {
	return s.refresh
}

// Signup registers a new user and establishes a session: one access token
// plus one refresh secret for the new account.
func (s *AuthService) Signup(ctx context.Context, req model.SignupRequest) (string, string, *model.AuthUser, error) {
	name, email, role, err := validateSignup(&req)
	if err != nil {
		return "", "", nil, err
	}

	passwordHash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return "", "", nil, err
	}

	user, err := s.users.CreateUser(ctx, name, email, passwordHash, role)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", "", nil, ErrDuplicateEmail
		}
		return "", "", nil, err
	}

	return s.establishSession(ctx, user)
}

// Login verifies credentials. Unknown email and wrong password are
// deliberately indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (string, string, *model.AuthUser, error) {
	email, err := validateLogin(&req)
	if err != nil {
		return "", "", nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, err
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		return "", "", nil, ErrInvalidCredentials
	}

	return s.establishSession(ctx, user)
}

// Refresh verifies and rotates the presented secret. Every rotation failure
// collapses to ErrUnauthorized here: the caller must treat it as a signal
// to fully log out, because the chain is either stale or compromised.
func (s *AuthService) Refresh(ctx context.Context, raw string) (string, string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", ErrUnauthorized
	}

	record, err := s.refresh.Verify(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return "", "", ErrUnauthorized
		}
		return "", "", err
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if db.IsNoRows(err) {
			return "", "", ErrUnauthorized
		}
		return "", "", err
	}

	newRaw, err := s.refresh.Rotate(ctx, record.UserID, raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenReuse), errors.Is(err, ErrTokenExpired):
			return "", "", ErrUnauthorized
		}
		return "", "", err
	}

	accessToken, _, err := s.codec.Issue(user)
	if err != nil {
		return "", "", err
	}

	return accessToken, newRaw, nil
}

// Logout revokes the presented secret best-effort. It never fails: the
// handler clears the cookie and reports success regardless.
func (s *AuthService) Logout(ctx context.Context, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	_ = s.refresh.Revoke(ctx, raw)
}

// LogoutAll removes every refresh record for the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.refresh.RevokeAll(ctx, userID)
}

func (s *AuthService) establishSession(ctx context.Context, user *model.User) (string, string, *model.AuthUser, error) {
	accessToken, _, err := s.codec.Issue(user)
	if err != nil {
		return "", "", nil, err
	}

	rawRefresh, err := s.refresh.Issue(ctx, user.ID)
	if err != nil {
		return "", "", nil, err
	}

	return accessToken, rawRefresh, &model.AuthUser{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}, nil
}

func validateSignup(req *model.SignupRequest) (string, string, model.Role, error) {
	var details []model.FieldError

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.LastName))
	}
	if name == "" {
		details = append(details, model.FieldError{Field: "name", Message: "either name or firstName and lastName is required"})
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		details = append(details, model.FieldError{Field: "email", Message: "invalid email address"})
	}

	if len(req.Password) < minPasswordLength {
		details = append(details, model.FieldError{Field: "password", Message: "password must be at least 8 characters"})
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		details = append(details, model.FieldError{Field: "confirmPassword", Message: "passwords do not match"})
	}

	role := model.RoleUser
	if req.Role != "" {
		if !model.ValidRole(req.Role) {
			details = append(details, model.FieldError{Field: "role", Message: "role must be User or Admin"})
		} else {
			role = model.Role(req.Role)
		}
	}

	if len(details) > 0 {
		return "", "", "", &ValidationError{Details: details}
	}
	return name, email, role, nil
}

func validateLogin(req *model.LoginRequest) (string, error) {
	var details []model.FieldError

	email, ok := normalizeEmail(req.Email)
	if !ok {
		details = append(details, model.FieldError{Field: "email", Message: "invalid email address"})
	}
	if len(req.Password) < minPasswordLength {
		details = append(details, model.FieldError{Field: "password", Message: "password must be at least 8 characters"})
	}

	if len(details) > 0 {
		return "", &ValidationError{Details: details}
	}
	return email, nil
}

// normalizeEmail trims the input, rejects anything beyond a bare address
// (display names, angle brackets), and lowercases the result. The
// normalized form is what gets stored and looked up.
func normalizeEmail(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseBool(value)
}

func parseSameSite(value string, secure bool) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		// Production-grade deployments run cross-site over HTTPS and need
		// SameSite=None; plain HTTP development works with Lax.
		if secure {
			return http.SameSiteNoneMode, nil
		}
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, errors.New("unknown SameSite value")
	}
}
