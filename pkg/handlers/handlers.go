package handlers

import (
	"errors"
	"net/http"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/config"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/loader"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/orchestrator"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Handlers holds the dependencies of the HTTP layer.
type Handlers struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Store        db.Store
	Loader       *loader.Loader
	Hub          *notify.Hub
	Templates    *templates.Catalog
	upgrader     websocket.Upgrader
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(cfg *config.Config, orch *orchestrator.Orchestrator, store db.Store, ld *loader.Loader, hub *notify.Hub, catalog *templates.Catalog) *Handlers {
	allowed := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[o] = true
	}
	return &Handlers{
		Config:       cfg,
		Orchestrator: orch,
		Store:        store,
		Loader:       ld,
		Hub:          hub,
		Templates:    catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// statusFor maps failure codes onto HTTP statuses.
var statusFor = map[string]int{
	orchestrator.CodeNotFound:        http.StatusNotFound,
	orchestrator.CodeInvalidRequest:  http.StatusBadRequest,
	orchestrator.CodeConflict:        http.StatusConflict,
	orchestrator.CodeNothingToRevert: http.StatusConflict,
	orchestrator.CodeStillProcessing: http.StatusConflict,
	orchestrator.CodeTimeout:         http.StatusGatewayTimeout,
	orchestrator.CodeProvider:        http.StatusBadGateway,
	orchestrator.CodeSynthesis:       http.StatusUnprocessableEntity,
	orchestrator.CodeBuildFailed:     http.StatusUnprocessableEntity,
}

// respondError writes err, which is usually an *orchestrator.TurnError.
func respondError(c *gin.Context, fn string, err error) {
	var te *orchestrator.TurnError
	if !errors.As(err, &te) {
		if errors.Is(err, db.ErrNotFound) {
			te = &orchestrator.TurnError{Code: orchestrator.CodeNotFound, Message: "Not found"}
		} else {
			te = &orchestrator.TurnError{Code: orchestrator.CodeInternal, Message: "Internal server error", Err: err}
		}
	}
	status, ok := statusFor[te.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", fn, err)
	} else {
		log.Debugf("%s: %v", fn, err)
	}
	utils.ResponseWithErrorCode(c, status, te.Code, te.Message, gin.H{"retryable": te.Retryable})
}

// paramID parses a UUID path parameter, answering 400 when it is malformed.
func paramID(c *gin.Context, fn, name string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warnf("%s: Invalid %s format '%s': %v", fn, name, raw, err)
		utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}
