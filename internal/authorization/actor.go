package authorization

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	ActorTypeSystem = "system"
	ActorTypeUser   = "user"
)

// Actor is whoever triggers an operation: the scheduler or a platform user.
type Actor struct {
	Type string
	ID   snowflake.ID
}

var System = Actor{Type: ActorTypeSystem}

func User(id snowflake.ID) Actor {
	return Actor{Type: ActorTypeUser, ID: id}
}

// ParseActor accepts "system" and "user:<id>".
func ParseActor(raw string) (Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == ActorTypeSystem {
		return System, nil
	}
	if !strings.HasPrefix(raw, ActorTypeUser+":") {
		return Actor{}, ErrInvalidActor
	}
	id, err := snowflake.ParseString(strings.TrimPrefix(raw, ActorTypeUser+":"))
	if err != nil || id == 0 {
		return Actor{}, ErrInvalidActor
	}
	return User(id), nil
}

func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

// Subject is the casbin subject for the actor.
func (a Actor) Subject() string {
	if a.IsSystem() {
		return ActorTypeSystem
	}
	return fmt.Sprintf("%s:%s", a.Type, a.ID)
}

// IDString is empty for the system actor.
func (a Actor) IDString() string {
	if a.ID == 0 {
		return ""
	}
	return a.ID.String()
}
