package handlers

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ProjectEvents upgrades GET /api/projects/:id/events to a websocket that
// streams the project's turn, revert and rebuild events.
func (h *Handlers) ProjectEvents(c *gin.Context) {
	projectID, ok := paramID(c, "ProjectEvents", "id")
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warnf("ProjectEvents: websocket upgrade failed: %v", err)
		return
	}
	log.WithField("project_id", projectID).Debug("ProjectEvents: subscriber connected")
	h.Hub.Serve(c.Request.Context(), conn, projectID)
}
