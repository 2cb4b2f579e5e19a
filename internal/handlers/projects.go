package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spyglass-dev/spyglass/internal/models"
	"github.com/spyglass-dev/spyglass/internal/services"
)

// ProjectsHandler serves the plain REST view of the project index for
// clients that poll instead of subscribing.
type ProjectsHandler struct {
	watcher *services.IndexWatcher
}

// NewProjectsHandler creates the handler.
func NewProjectsHandler(watcher *services.IndexWatcher) *ProjectsHandler {
	return &ProjectsHandler{watcher: watcher}
}

// RegisterRoutes registers the projects routes.
func (h *ProjectsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/projects", h.GetProjects)
}

// GetProjects returns the current project collection.
// @Summary Get all indexed projects
// @Tags projects
// @Produce json
// @Success 200 {object} models.ProjectsMessage
// @Router /v1/projects [get]
func (h *ProjectsHandler) GetProjects(c *fiber.Ctx) error {
	snapshot := h.watcher.Current()
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	return c.JSON(models.ProjectsMessage{Type: models.MsgTypeProjects, Projects: snapshot})
}
