package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type grantRoleRequest struct {
	Role string `json:"role"`
}

type roleChangeResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) GrantUserRole(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	var req grantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		AbortWithError(c, newValidationError("role", "invalid_role", "role is required"))
		return
	}

	if err := s.authzSvc.GrantRole(c.Request.Context(), actor, userID, role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": roleChangeResponse{UserID: userID.String(), Role: role}})
}

func (s *Server) RevokeUserRole(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	role := strings.TrimSpace(c.Param("role"))

	if err := s.authzSvc.RevokeRole(c.Request.Context(), actor, userID, role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": roleChangeResponse{UserID: userID.String(), Role: role}})
}
