package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"matchfabric/internal/ezauth"
	"matchfabric/internal/state"
)

// API serves the read-only HTTP view of the store. The only mutation it
// offers is leaving a match, which requires a valid session.
type API struct {
	activeMatches *state.Collection[state.ActiveMatch]
	gameServers   *state.Collection[state.GameServer]
	hostRequests  *state.Collection[state.HostRequest]
	aiPlayers     *state.Collection[state.AIPlayer]
	auth          *ezauth.Client
}

// New creates the API over the shared store
func New(store *state.Store, auth *ezauth.Client) *API {
	return &API{
		activeMatches: state.ActiveMatches(store),
		gameServers:   state.GameServers(store),
		hostRequests:  state.HostRequests(store),
		aiPlayers:     state.AIPlayers(store),
		auth:          auth,
	}
}

// Register mounts every route on the given router
func (a *API) Register(r gin.IRouter) {
	matches := r.Group("/active-matches")
	matches.GET("", a.listActiveMatches)
	matches.GET("/:read", a.getActiveMatch)
	matches.GET("/:read/:session_token", a.getWriteToken)
	matches.DELETE("/:read/:session_token", a.leaveMatch)

	servers := r.Group("/game-servers")
	servers.GET("", a.listGameServers)
	servers.GET("/:uuid", a.getGameServer)

	hosts := r.Group("/host-requests")
	hosts.GET("", a.listHostRequests)
	hosts.GET("/:uuid", a.getHostRequest)

	ai := r.Group("/ai-players")
	ai.GET("", a.listAIPlayers)
	ai.GET("/:uuid", a.getAIPlayer)
}

func queryBool(c *gin.Context, name string) (value, present bool) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}

func (a *API) listActiveMatches(c *gin.Context) {
	game := c.Query("game")
	mode := c.Query("mode")
	region := c.Query("region")
	read := c.Query("read")
	player := c.Query("player")
	ai, aiSet := queryBool(c, "ai")

	rows, err := a.activeMatches.Filter(c.Request.Context(), func(m state.ActiveMatch) bool {
		if game != "" && m.Game != game {
			return false
		}
		if mode != "" && m.Mode != mode {
			return false
		}
		if region != "" && m.Region != region {
			return false
		}
		if read != "" && m.Read != read {
			return false
		}
		if aiSet && m.AI != ai {
			return false
		}
		if player != "" {
			if _, ok := m.PlayerWrite[player]; !ok {
				return false
			}
		}
		return true
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]ActiveMatch, 0, len(rows))
	for _, m := range rows {
		out = append(out, activeMatchView(m))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getActiveMatch(c *gin.Context) {
	m, err := a.activeMatches.Get(c.Request.Context(), c.Param("read"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, activeMatchView(m))
}

// matchForSession resolves the caller's session and the match they are part
// of, identified by its read token
func (a *API) matchForSession(c *gin.Context) (state.ActiveMatch, string, bool) {
	read := c.Param("read")
	sessionToken := c.Param("session_token")

	profile, err := a.auth.Validate(c.Request.Context(), sessionToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return state.ActiveMatch{}, "", false
	}

	m, err := a.activeMatches.Find(c.Request.Context(), func(am state.ActiveMatch) bool {
		if am.Read != read {
			return false
		}
		_, ok := am.PlayerWrite[profile.ID]
		return ok
	})
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active match found"})
			return state.ActiveMatch{}, "", false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return state.ActiveMatch{}, "", false
	}
	return m, profile.ID, true
}

func (a *API) getWriteToken(c *gin.Context) {
	m, playerID, ok := a.matchForSession(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, m.PlayerWrite[playerID])
}

func (a *API) leaveMatch(c *gin.Context) {
	m, _, ok := a.matchForSession(c)
	if !ok {
		return
	}
	if err := a.activeMatches.Remove(c.Request.Context(), m.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) listGameServers(c *gin.Context) {
	region := c.Query("region")
	game := c.Query("game")
	mode := c.Query("mode")
	healthy, healthySet := queryBool(c, "healthy")

	rows, err := a.gameServers.Filter(c.Request.Context(), func(s state.GameServer) bool {
		if region != "" && s.Region != region {
			return false
		}
		if game != "" && s.Game != game {
			return false
		}
		if mode != "" && s.Mode != mode {
			return false
		}
		if healthySet && s.Healthy != healthy {
			return false
		}
		return true
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]GameServer, 0, len(rows))
	for _, s := range rows {
		out = append(out, gameServerView(s))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getGameServer(c *gin.Context) {
	s, err := a.gameServers.Get(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gameServerView(s))
}

func (a *API) listHostRequests(c *gin.Context) {
	game := c.Query("game")
	mode := c.Query("mode")
	region := c.Query("region")
	player := c.Query("player")

	rows, err := a.hostRequests.Filter(c.Request.Context(), func(r state.HostRequest) bool {
		if game != "" && r.Game != game {
			return false
		}
		if mode != "" && r.Mode != mode {
			return false
		}
		if region != "" && r.Region != region {
			return false
		}
		if player != "" && r.PlayerID != player {
			return false
		}
		return true
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]HostRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, hostRequestView(r))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getHostRequest(c *gin.Context) {
	r, err := a.hostRequests.Get(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Host request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hostRequestView(r))
}

func (a *API) listAIPlayers(c *gin.Context) {
	game := c.Query("game")
	mode := c.Query("mode")

	rows, err := a.aiPlayers.Filter(c.Request.Context(), func(p state.AIPlayer) bool {
		if game != "" && p.Game != game {
			return false
		}
		if mode != "" && p.Mode != mode {
			return false
		}
		return true
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]AIPlayer, 0, len(rows))
	for _, p := range rows {
		out = append(out, aiPlayerView(p))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getAIPlayer(c *gin.Context) {
	p, err := a.aiPlayers.Get(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "AI player not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, aiPlayerView(p))
}
