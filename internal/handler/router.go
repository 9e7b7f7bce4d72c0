package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authcore/backend/internal/model"
	"github.com/authcore/backend/internal/service"
)

// NewRouter assembles the HTTP surface: auth routes under /api/auth, a
// health probe, CORS for the frontend origins, and an enveloped 404.
func NewRouter(svc *service.AuthService, allowedOrigins []string) *gin.Engine {
	r := gin.Default()
	r.Use(CORSMiddleware(allowedOrigins, true))

	r.GET("/health", Health)

	auth := r.Group("/api/auth")
	h := NewAuthHandler(svc)
	auth.POST("/signup", h.Signup)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)
	auth.GET("/me", AuthMiddleware(svc.Codec()), h.Me)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Not found"})
	})

	return r
}
