package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authcore/backend/internal/model"
	"github.com/authcore/backend/internal/service"
)

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Signup godoc
// @Summary Register a new user
// @Description Creates an account and establishes a session (access token + refresh cookie).
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.SignupRequest true "Signup payload"
// @Success 201 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request body"})
		return
	}

	accessToken, rawRefresh, user, err := h.svc.Signup(c.Request.Context(), req)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setRefreshCookie(c, rawRefresh)
	c.JSON(http.StatusCreated, model.SuccessResponse{
		Success: true,
		Data:    model.AuthData{AccessToken: accessToken, User: user},
	})
}

// Login godoc
// @Summary Login with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Credentials"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request body"})
		return
	}

	accessToken, rawRefresh, user, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setRefreshCookie(c, rawRefresh)
	c.JSON(http.StatusOK, model.SuccessResponse{
		Success: true,
		Data:    model.AuthData{AccessToken: accessToken, User: user},
	})
}

// Refresh godoc
// @Summary Rotate the refresh token and mint a new access token
// @Description Uses the refreshToken cookie; the old cookie value is invalidated.
// @Tags auth
// @Produce json
// @Success 200 {object} model.SuccessResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(h.svc.CookieConfig().Name)
	accessToken, newRaw, err := h.svc.Refresh(c.Request.Context(), raw)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setRefreshCookie(c, newRaw)
	c.JSON(http.StatusOK, model.SuccessResponse{
		Success: true,
		Data:    model.AuthData{AccessToken: accessToken},
	})
}

// Logout godoc
// @Summary Logout
// @Description Revokes the refresh token if present and clears the cookie. Always succeeds.
// @Tags auth
// @Produce json
// @Success 200 {object} model.SuccessResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(h.svc.CookieConfig().Name)
	h.svc.Logout(c.Request.Context(), raw)
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.SuccessResponse{Success: true, Data: "Logged out"})
}

// Me godoc
// @Summary Get the authenticated user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Success: true, Data: user})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, token, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeAuthError(c *gin.Context, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "Validation failed",
			Details: validation.Details,
		})
	case errors.Is(err, service.ErrDuplicateEmail):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Email already in use"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid credentials"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Internal Server Error"})
	}
}
