package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/paideia-lms/Paideia-sub010/internal/middleware"
)

// actorID returns the authenticated caller's id, or "" for anonymous requests.
func actorID(c *gin.Context) string {
	return middleware.Actor(c).ActorID()
}
