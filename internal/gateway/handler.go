// Package gateway exposes the companion over HTTP and streams UI state to
// viewers over a WebSocket.
package gateway

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lklkevin/pear/internal/account"
	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/browse"
	"github.com/lklkevin/pear/internal/exam"
	"github.com/lklkevin/pear/internal/generate"
	"github.com/lklkevin/pear/internal/history"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

// Deps are the services the gateway fronts.
type Deps struct {
	Store      *state.Store
	Session    *session.Manager
	Generator  *generate.Orchestrator
	Searchers  *browse.Searchers
	Favourites *browse.Favourites
	Account    *account.Service
	Viewer     *exam.Viewer
	History    history.Recorder
}

// Handler holds HTTP/WS endpoint handlers.
type Handler struct {
	store   *state.Store
	sess    *session.Manager
	gen     *generate.Orchestrator
	search  *browse.Searchers
	favs    *browse.Favourites
	account *account.Service
	viewer  *exam.Viewer
	history history.Recorder

	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(d Deps, hub *Hub) *Handler {
	return &Handler{
		store:   d.Store,
		sess:    d.Session,
		gen:     d.Generator,
		search:  d.Searchers,
		favs:    d.Favourites,
		account: d.Account,
		viewer:  d.Viewer,
		history: d.History,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS(corsOrigins))
	r.Use(Logger())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.WebSocket)

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)
		api.GET("/state", h.State)

		api.GET("/session", h.CurrentSession)
		api.POST("/session/login", h.Login)
		api.POST("/session/signup", h.Signup)
		api.POST("/session/logout", h.Logout)

		api.POST("/generate", h.Generate)
		api.GET("/generate", h.GenerateStatus)
		api.DELETE("/generate", h.CancelGenerate)

		api.GET("/browse", h.Browse)

		api.GET("/exam/:id", h.SavedExam)
		api.GET("/exam/:id/pdf", h.SavedExamPDF)
		api.GET("/generated", h.GeneratedExam)
		api.GET("/generated/pdf", h.GeneratedExamPDF)
		api.GET("/reveal", h.RevealState)
		api.POST("/reveal", h.Reveal)

		api.GET("/history", h.History)
	}

	authed := r.Group("/api/v1", h.RequireSession())
	{
		authed.POST("/favourite", h.ToggleFavourite)
		authed.GET("/favourite/:id", h.CheckFavourite)

		authed.GET("/user/profile", h.Profile)
		authed.PATCH("/user/username", h.UpdateUsername)
		authed.PATCH("/user/password", h.UpdatePassword)
		authed.DELETE("/user/account", h.DeleteAccount)
	}
}

// ─────────────────────────────────────────────
// GET /api/v1/health, GET /api/v1/state
// ─────────────────────────────────────────────

// Health returns basic gateway health info.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"connected_viewers": h.hub.ClientCount(),
	})
}

// State returns the current UI state snapshot.
func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

// ─────────────────────────────────────────────
// GET /ws
// ─────────────────────────────────────────────

// WebSocket upgrades the connection and streams state snapshots.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[gateway] websocket upgrade error: %v", err)
		return
	}
	NewClient(conn, h.hub).Run()
}

// ─────────────────────────────────────────────
// Error mapping
// ─────────────────────────────────────────────

// abortWithError replies with the user-facing message of err. Backend
// statuses pass through; local validation failures are 4xx.
func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": errorMessage(err)})
}

func errorStatus(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest {
		return apiErr.Status
	}

	switch {
	case errors.Is(err, session.ErrNotSignedIn), errors.Is(err, browse.ErrTokenRequired):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrMissingCredentials),
		errors.Is(err, account.ErrEmptyPassword),
		errors.Is(err, account.ErrPasswordMismatch),
		errors.Is(err, account.ErrEmptyUsername):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrBusy), errors.Is(err, browse.ErrToggleInFlight):
		return http.StatusConflict
	case errors.Is(err, exam.ErrNotGenerated):
		return http.StatusNotFound
	}

	var viewErr *exam.ViewError
	if errors.As(err, &viewErr) {
		return http.StatusNotFound
	}
	if apiErr != nil {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	var viewErr *exam.ViewError
	if errors.As(err, &viewErr) {
		return viewErr.Message
	}
	var accErr *account.Error
	if errors.As(err, &accErr) {
		return accErr.Message
	}
	return backend.Message(err, err.Error())
}
