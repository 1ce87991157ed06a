package handlers

import (
	"net/http"
	"strconv"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/ledger"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/llm"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/middleware"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/orchestrator"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// --- Request/Response Structs ---

// TurnRequest is one chat message from the editor.
type TurnRequest struct {
	Message   string `json:"message" binding:"required,min=1,max=4000"`
	SessionID string `json:"session_id" binding:"max=128"`
	// CorrelationID may also be sent as the Idempotency-Key header.
	CorrelationID string         `json:"correlation_id" binding:"max=128"`
	TargetSceneID string         `json:"target_scene_id" binding:"omitempty,uuid"`
	ReferenceCode string         `json:"reference_code"`
	Images        []ImagePayload `json:"images" binding:"max=4,dive"`
}

// ImagePayload is an inline visual reference; Data is base64 in JSON.
type ImagePayload struct {
	MIMEType string `json:"mime_type" binding:"required,oneof=image/png image/jpeg image/webp"`
	Data     []byte `json:"data" binding:"required"`
}

type RevertRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id" binding:"omitempty,uuid"`
}

type MessageResponse struct {
	db.Message
	HasRevertible bool `json:"has_revertible"`
}

// IterationResponse exposes the code the ledger keeps out of plain JSON.
type IterationResponse struct {
	db.Iteration
	CodeBefore     *string `json:"code_before"`
	CodeAfter      *string `json:"code_after"`
	DurationBefore *int64  `json:"duration_before"`
	DurationAfter  *int64  `json:"duration_after"`
	Revertible     bool    `json:"revertible"`
}

func newIterationResponse(it db.Iteration) IterationResponse {
	res := IterationResponse{Iteration: it, Revertible: ledger.Revertible(&it)}
	if it.CodeBefore.Valid {
		res.CodeBefore = &it.CodeBefore.String
	}
	if it.CodeAfter.Valid {
		res.CodeAfter = &it.CodeAfter.String
	}
	if it.DurationBefore.Valid {
		res.DurationBefore = &it.DurationBefore.Int64
	}
	if it.DurationAfter.Valid {
		res.DurationAfter = &it.DurationAfter.Int64
	}
	return res
}

func newIterationResponses(its []db.Iteration) []IterationResponse {
	out := make([]IterationResponse, len(its))
	for i, it := range its {
		out[i] = newIterationResponse(it)
	}
	return out
}

// --- API Handlers ---

// PostTurn handles one chat message: POST /api/projects/:id/turns.
func (h *Handlers) PostTurn(c *gin.Context) {
	projectID, ok := paramID(c, "PostTurn", "id")
	if !ok {
		return
	}
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("PostTurn: Invalid request body: %v", err)
		utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	turn := orchestrator.TurnRequest{
		ProjectID:     projectID,
		SessionID:     req.SessionID,
		Utterance:     req.Message,
		CorrelationID: req.CorrelationID,
		ReferenceCode: req.ReferenceCode,
	}
	if turn.CorrelationID == "" {
		turn.CorrelationID = c.GetHeader("Idempotency-Key")
	}
	if req.TargetSceneID != "" {
		turn.TargetSceneID = uuid.MustParse(req.TargetSceneID)
	}
	for _, img := range req.Images {
		turn.Images = append(turn.Images, llm.Image{MIMEType: img.MIMEType, Data: img.Data})
	}
	if claims, ok := middleware.GetUserClaimsFromContext(c); ok {
		log.WithField("user_id", claims.UserID).Debugf("PostTurn: turn for project %s", projectID)
	}

	res, err := h.Orchestrator.HandleTurn(c.Request.Context(), turn)
	if err != nil {
		respondError(c, "PostTurn", err)
		return
	}
	message := "Turn handled"
	if res.Duplicate {
		message = "Turn already handled"
	}
	utils.ResponseWithSuccess(c, http.StatusOK, message, res)
}

// ListMessages handles GET /api/projects/:id/messages?limit=N.
func (h *Handlers) ListMessages(c *gin.Context) {
	projectID, ok := paramID(c, "ListMessages", "id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "limit must be a non-negative integer", nil)
		return
	}

	msgs, err := h.Store.ListMessages(c.Request.Context(), projectID, limit)
	if err != nil {
		respondError(c, "ListMessages", err)
		return
	}
	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{Message: m}
		if m.Role != db.RoleUser {
			continue
		}
		if out[i].HasRevertible, err = h.Orchestrator.Ledger().HasRevertible(c.Request.Context(), m.ID); err != nil {
			respondError(c, "ListMessages", err)
			return
		}
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Messages retrieved successfully", out)
}

// MessageIterations handles GET /api/messages/:id/iterations.
func (h *Handlers) MessageIterations(c *gin.Context) {
	messageID, ok := paramID(c, "MessageIterations", "id")
	if !ok {
		return
	}
	its, err := h.Orchestrator.Ledger().ListByMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, "MessageIterations", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Iterations retrieved successfully", newIterationResponses(its))
}

// RevertIteration handles POST /api/iterations/:id/revert.
func (h *Handlers) RevertIteration(c *gin.Context) {
	iterationID, ok := paramID(c, "RevertIteration", "id")
	if !ok {
		return
	}
	var req RevertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("RevertIteration: Invalid request body: %v", err)
			utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid request body", err.Error())
			return
		}
	}
	rr := orchestrator.RevertRequest{IterationID: iterationID, SessionID: req.SessionID}
	if req.MessageID != "" {
		rr.MessageID = uuid.MustParse(req.MessageID)
	}

	res, err := h.Orchestrator.RevertIteration(c.Request.Context(), rr)
	if err != nil {
		respondError(c, "RevertIteration", err)
		return
	}
	log.Infof("RevertIteration: iteration %s reverted, scene %s", iterationID, res.Scene.ID)
	utils.ResponseWithSuccess(c, http.StatusOK, "Iteration reverted", res)
}
