package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const profileUsernameKey = "username"

type ProfileRequest struct {
	Username string `json:"username"`
}

type ProfileResponse struct {
	Username string `json:"username"`
}

func listRooms(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, err := o.RoomList(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("room list")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rooms unavailable"})
			return
		}
		c.JSON(http.StatusOK, rooms)
	}
}

func getProfile(c *gin.Context) {
	name, _ := sessions.Default(c).Get(profileUsernameKey).(string)
	if name == "" {
		name = domain.DefaultUsername
	}
	c.JSON(http.StatusOK, ProfileResponse{Username: name})
}

func postProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
		return
	}
	name := domain.NormalizeUsername(req.Username)

	s := sessions.Default(c)
	s.Set(profileUsernameKey, name)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save profile"})
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{Username: name})
}

// usernameFor picks the display name for a new signaling session:
// ?username= first, then the stored profile.
func usernameFor(c *gin.Context) string {
	if name := c.Query("username"); name != "" {
		return name
	}
	name, _ := sessions.Default(c).Get(profileUsernameKey).(string)
	return name
}
