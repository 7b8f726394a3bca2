package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vestora/internal/authorization"
)

func (s *Server) requireActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return authorization.Actor{}, false
	}
	return actor, true
}

// requireUserActor rejects the system actor on routes that act for the
// calling investor.
func (s *Server) requireUserActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := s.requireActor(c)
	if !ok {
		return authorization.Actor{}, false
	}
	if actor.Type != authorization.ActorTypeUser || actor.ID == 0 {
		AbortWithError(c, authorization.ErrInvalidActor)
		return authorization.Actor{}, false
	}
	return actor, true
}

// requireSelfOrAuthorized lets a user read their own records. Anyone else
// needs the given permission.
func (s *Server) requireSelfOrAuthorized(c *gin.Context, userID snowflake.ID, object, action string) bool {
	actor, ok := s.requireActor(c)
	if !ok {
		return false
	}
	if actor.Type == authorization.ActorTypeUser && actor.ID == userID {
		return true
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}
