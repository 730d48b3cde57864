package http

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

const stateTTL = 10 * time.Minute

type IAccountHandler interface {
	Connect(c *gin.Context)
	Callback(c *gin.Context)
	Status(c *gin.Context)
}

type pendingState struct {
	userID   string
	platform string
	expires  time.Time
}

// AccountHandler links platform accounts to API users through OAuth. The
// state parameter carries the user across the browser redirect.
type AccountHandler struct {
	tokens     repository.IOAuthToken
	connectors map[string]repository.IAccountConnector
	now        func() time.Time
	stateMu    sync.Mutex
	states     map[string]pendingState
}

func NewAccountHandler(tokens repository.IOAuthToken, connectors ...repository.IAccountConnector) *AccountHandler {
	h := &AccountHandler{
		tokens:     tokens,
		connectors: make(map[string]repository.IAccountConnector),
		now:        time.Now,
		states:     make(map[string]pendingState),
	}
	for _, c := range connectors {
		if c != nil {
			h.connectors[c.Platform()] = c
		}
	}
	return h
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Connect handles GET /api/connect/:platform
func (h *AccountHandler) Connect(c *gin.Context) {
	conn, ok := h.connectors[c.Param("platform")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "platform not configured"})
		return
	}
	state := randomState()
	now := h.now()
	h.stateMu.Lock()
	for s, p := range h.states {
		if now.After(p.expires) {
			delete(h.states, s)
		}
	}
	h.states[state] = pendingState{userID: c.GetString("user_id"), platform: conn.Platform(), expires: now.Add(stateTTL)}
	h.stateMu.Unlock()
	c.JSON(http.StatusOK, dto.ConnectResponse{AuthURL: conn.AuthCodeURL(state), State: state})
}

// Callback handles GET /auth/:platform/callback
func (h *AccountHandler) Callback(c *gin.Context) {
	lg := logger.GetLogger().WithField("platform", c.Param("platform"))
	if e := c.Query("error"); e != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "oauth error: " + e, "description": c.Query("error_description")})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	pending, ok := h.takeState(c.Query("state"), c.Param("platform"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}
	conn := h.connectors[pending.platform]

	tokens, err := conn.Connect(c.Request.Context(), pending.userID, code)
	if err != nil {
		lg.WithField("error", err).Error("Account connection failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "token_exchange_failed"})
		return
	}
	connected := make([]dto.ConnectedAccount, 0, len(tokens))
	for _, tok := range tokens {
		if err := h.tokens.UpsertToken(c.Request.Context(), tok); err != nil {
			lg.WithField("error", err).Error("Failed to store account token")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_token_failed"})
			return
		}
		connected = append(connected, dto.ConnectedAccount{
			Destination: tok.Platform + ":" + tok.AccountID,
			AccountName: tok.AccountName,
		})
	}
	lg.WithField("user_id", pending.userID).WithField("accounts", len(connected)).Info("Accounts connected")
	c.JSON(http.StatusOK, gin.H{"connected": true, "accounts": connected})
}

func (h *AccountHandler) takeState(state, platform string) (pendingState, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	p, ok := h.states[state]
	if !ok {
		return pendingState{}, false
	}
	delete(h.states, state)
	if h.now().After(p.expires) || p.platform != platform {
		return pendingState{}, false
	}
	return p, true
}

// Status handles GET /api/accounts/:destination
func (h *AccountHandler) Status(c *gin.Context) {
	key, err := model.ParseDestinationKey(c.Param("destination"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.AccountStatus{Destination: key.String()}
	tok, err := h.tokens.GetToken(c.Request.Context(), c.GetString("user_id"), key.Platform(), key.AccountID())
	switch {
	case errors.Is(err, model.ErrTokenNotFound):
	case err != nil:
		writeError(c, &model.InfrastructureError{Op: "load account token", Err: err})
		return
	default:
		resp.Connected = tok.Usable(h.now())
		resp.AccountName = tok.AccountName
	}
	c.JSON(http.StatusOK, resp)
}
