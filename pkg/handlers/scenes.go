package handlers

import (
	"net/http"
	"strconv"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/loader"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/orchestrator"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/utils"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type ManualEditRequest struct {
	Code            string `json:"code" binding:"required"`
	ExpectedVersion int    `json:"expected_version" binding:"min=0"`
	SessionID       string `json:"session_id"`
}

type InsertTemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
	SessionID  string `json:"session_id"`
}

type RebuildRequest struct {
	Limit int `json:"limit" binding:"min=0,max=500"`
}

// SceneResponse is a scene as the editor sees it.
type SceneResponse struct {
	db.Scene
	Index      int    `json:"index"`
	JSURL      string `json:"js_url,omitempty"`
	BuildError string `json:"build_error,omitempty"`
}

func newSceneResponse(s db.Scene, index int) SceneResponse {
	return SceneResponse{Scene: s, Index: index, JSURL: s.JSURL.String, BuildError: s.BuildError.String}
}

// ComponentResponse is what the player executes for one scene.
type ComponentResponse struct {
	*loader.Outcome
	JS string `json:"js"`
}

// ListScenes handles GET /api/projects/:id/scenes.
func (h *Handlers) ListScenes(c *gin.Context) {
	projectID, ok := paramID(c, "ListScenes", "id")
	if !ok {
		return
	}
	scenes, err := h.Store.ListScenes(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, "ListScenes", err)
		return
	}
	out := make([]SceneResponse, len(scenes))
	for i, s := range scenes {
		out[i] = newSceneResponse(s, i+1)
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Scenes retrieved successfully", out)
}

// GetScene handles GET /api/scenes/:id.
func (h *Handlers) GetScene(c *gin.Context) {
	sceneID, ok := paramID(c, "GetScene", "id")
	if !ok {
		return
	}
	scene, err := h.Store.GetScene(c.Request.Context(), sceneID)
	if err != nil {
		respondError(c, "GetScene", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Scene retrieved successfully", newSceneResponse(*scene, 0))
}

// SceneComponent handles GET /api/scenes/:id/component[?refresh=1][&format=js].
// It always answers 200 for scene-level problems: the body carries a
// placeholder component and its diagnostic.
func (h *Handlers) SceneComponent(c *gin.Context) {
	sceneID, ok := paramID(c, "SceneComponent", "id")
	if !ok {
		return
	}
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "0"))

	out, err := h.Loader.Load(c.Request.Context(), sceneID, loader.LoadOptions{Refresh: refresh})
	if err != nil {
		respondError(c, "SceneComponent", err)
		return
	}

	if c.Query("format") == "js" {
		c.Header("Cache-Control", "no-store")
		if out.Fallback != nil {
			c.Header("X-Scene-Fallback", out.Fallback.Kind)
			c.Header("X-Scene-Error-Code", out.Fallback.Code)
		}
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(out.JS()))
		return
	}
	message := "Component loaded"
	if out.Fallback != nil {
		message = out.Fallback.Message
	}
	utils.ResponseWithSuccess(c, http.StatusOK, message, ComponentResponse{Outcome: out, JS: out.JS()})
}

// SceneIterations handles GET /api/scenes/:id/iterations.
func (h *Handlers) SceneIterations(c *gin.Context) {
	sceneID, ok := paramID(c, "SceneIterations", "id")
	if !ok {
		return
	}
	its, err := h.Orchestrator.Ledger().ListByScene(c.Request.Context(), sceneID)
	if err != nil {
		respondError(c, "SceneIterations", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Iterations retrieved successfully", newIterationResponses(its))
}

// UpdateSceneCode handles PUT /api/scenes/:id/code.
func (h *Handlers) UpdateSceneCode(c *gin.Context) {
	sceneID, ok := paramID(c, "UpdateSceneCode", "id")
	if !ok {
		return
	}
	var req ManualEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("UpdateSceneCode: Invalid request body: %v", err)
		utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	res, err := h.Orchestrator.ApplyManualEdit(c.Request.Context(), orchestrator.ManualEditRequest{
		SceneID:         sceneID,
		Code:            req.Code,
		ExpectedVersion: req.ExpectedVersion,
		SessionID:       req.SessionID,
	})
	if err != nil {
		respondError(c, "UpdateSceneCode", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Scene code updated", res)
}

// RebuildScene handles POST /api/scenes/:id/rebuild.
func (h *Handlers) RebuildScene(c *gin.Context) {
	sceneID, ok := paramID(c, "RebuildScene", "id")
	if !ok {
		return
	}
	scene, err := h.Orchestrator.RebuildScene(c.Request.Context(), sceneID)
	if err != nil {
		respondError(c, "RebuildScene", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Scene rebuilt", newSceneResponse(*scene, 0))
}

// RebuildFailed handles POST /api/rebuilds.
func (h *Handlers) RebuildFailed(c *gin.Context) {
	req := RebuildRequest{Limit: 50}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid request body", err.Error())
			return
		}
	}
	report, err := h.Orchestrator.RebuildFailed(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, "RebuildFailed", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Rebuild pass finished", report)
}

// ListTemplates handles GET /api/templates?format=portrait.
func (h *Handlers) ListTemplates(c *gin.Context) {
	if h.Templates == nil {
		utils.ResponseWithSuccess(c, http.StatusOK, "No templates configured", []any{})
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Templates retrieved successfully", h.Templates.List(c.Query("format")))
}

// InsertTemplate handles POST /api/projects/:id/templates.
func (h *Handlers) InsertTemplate(c *gin.Context) {
	projectID, ok := paramID(c, "InsertTemplate", "id")
	if !ok {
		return
	}
	var req InsertTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("InsertTemplate: Invalid request body: %v", err)
		utils.ResponseWithErrorCode(c, http.StatusBadRequest, orchestrator.CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}
	res, err := h.Orchestrator.InsertTemplate(c.Request.Context(), orchestrator.TemplateRequest{
		ProjectID:  projectID,
		TemplateID: req.TemplateID,
		SessionID:  req.SessionID,
	})
	if err != nil {
		respondError(c, "InsertTemplate", err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusCreated, "Template inserted", res)
}
