package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/funcx-faas/action-provider/internal/config"
)

type ProviderHandler struct {
	desc   config.ProviderConfig
	schema *InputSchema
}

func NewProviderHandler(desc config.ProviderConfig, schema *InputSchema) *ProviderHandler {
	return &ProviderHandler{desc: desc, schema: schema}
}

// GET /
func (h *ProviderHandler) Describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_version":       "1.0",
		"types":             []string{"Action"},
		"title":             h.desc.Title,
		"subtitle":          h.desc.Subtitle,
		"synchronous":       false,
		"globus_auth_scope": h.desc.GlobusAuthScope,
		"admin_contact":     h.desc.AdminContact,
		"visible_to":        h.desc.VisibleTo,
		"runnable_by":       h.desc.RunnableBy,
		"administered_by":   h.desc.AdministeredBy,
		"log_supported":     h.desc.LogSupported,
		"maximum_deadline":  h.desc.MaximumDeadline,
		"input_schema":      h.schema.Document(),
	})
}
