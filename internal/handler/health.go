package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health check endpoint.
func Health(c *gin.Context) {
	c.Status(http.StatusOK)
}
