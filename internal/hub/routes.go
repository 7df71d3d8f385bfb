package hub

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"moonvillage/internal/engine"
	"moonvillage/internal/game"
)

const identityKey = "identity"

// TokenIssuer mints connection tokens.
type TokenIssuer interface {
	Issue(userID, username string) (string, error)
}

// Router builds the HTTP surface: the websocket endpoint, a health check and the lobby API.
// A non-nil devIssuer exposes POST /api/dev/token, which hands out a token for any user.
func (h *Hub) Router(tokens engine.TokenVerifier, devIssuer TokenIssuer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	r.GET("/healthz", h.health)
	r.GET("/ws", func(c *gin.Context) { h.ServeWS(c.Writer, c.Request) })

	api := r.Group("/api")
	{
		api.GET("/sessions/:id", h.getSession)

		if devIssuer != nil {
			api.POST("/dev/token", devToken(devIssuer))
		}

		protected := api.Group("/")
		protected.Use(requireToken(tokens))
		protected.POST("/sessions", h.createSession)
	}
	return r
}

func (h *Hub) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("http")
	}
}

// requireToken checks the bearer token and stores the identity on the context.
func requireToken(tokens engine.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, engine.ErrorPayload{Code: game.CodeAuthentication, Message: "bearer token required"})
			return
		}
		id, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, engine.ErrorPayload{Code: game.CodeAuthentication, Message: "invalid token"})
			return
		}
		c.Set(identityKey, id.UserID)
		c.Next()
	}
}

type devTokenRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"username"`
}

func devToken(issuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, engine.ErrorPayload{Code: game.CodeBadRequest, Message: "userId is required"})
			return
		}
		token, err := issuer.Issue(req.UserID, req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, engine.ErrorPayload{Code: game.CodeAuthentication, Message: "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func (h *Hub) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Count()})
}

func (h *Hub) createSession(c *gin.Context) {
	var req engine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, game.Errorf(game.CodeBadRequest, "invalid request body"))
		return
	}
	view, err := h.engine.CreateSession(c.Request.Context(), c.GetString(identityKey), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Hub) getSession(c *gin.Context) {
	view, err := h.engine.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Hub) writeError(c *gin.Context, err error) {
	code := game.CodeOf(err)
	payload := engine.ErrorPayload{Code: code, Message: "internal error"}
	var ge *game.Error
	if errors.As(err, &ge) {
		payload.Message = ge.Message
	}
	if code == game.CodePersistence {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(httpStatus(code), payload)
}

func httpStatus(code game.Code) int {
	switch code {
	case game.CodeAuthentication:
		return http.StatusUnauthorized
	case game.CodeAuthorization:
		return http.StatusForbidden
	case game.CodeSessionNotFound, game.CodePlayerNotFound:
		return http.StatusNotFound
	case game.CodeGameFull, game.CodeAlreadyStarted, game.CodeInvalidPhase:
		return http.StatusConflict
	case game.CodePersistence:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
