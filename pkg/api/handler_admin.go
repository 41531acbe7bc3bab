package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// cleanupHandler handles POST /admin/cleanup?days=. Without days the
// configured retention applies.
func (s *Server) cleanupHandler(c *echo.Context) error {
	if s.cleanup == nil {
		return s.writeError(c, fault.New(fault.KindDependency, "cleanup service is not configured"))
	}

	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return s.writeError(c, fault.New(fault.KindValidation, "days must be a positive integer"))
		}
		days = n
	}

	result, err := s.cleanup.RunNow(c.Request().Context(), days)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// exportHandler handles GET /admin/export?format=json&days=.
func (s *Server) exportHandler(c *echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	if format != "json" {
		return s.writeError(c, fault.New(fault.KindValidation, "format must be json"))
	}

	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return s.writeError(c, fault.New(fault.KindValidation, "days must be a positive integer"))
		}
		days = n
	}

	data, err := s.audit.Export(c.Request().Context(), days)
	if err != nil {
		return s.writeError(c, err)
	}
	if data == nil {
		data = []*models.ConversationExport{}
	}

	return c.JSON(http.StatusOK, &models.ExportResponse{
		Format: format,
		Days:   days,
		Data:   data,
	})
}

// createAPIKeyHandler handles POST /admin/api-keys. The clear key
// appears in this response and nowhere else.
func (s *Server) createAPIKeyHandler(c *echo.Context) error {
	var req models.CreateAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fault.New(fault.KindInvalidInput, "request body must be valid JSON"))
	}
	if strings.TrimSpace(req.Name) == "" {
		return s.writeError(c, fault.New(fault.KindValidation, "key name is required"))
	}

	created, err := s.securityMgr.CreateAPIKey(c.Request().Context(), req.Name, req.Permissions, "")
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, created)
}

// listAPIKeysHandler handles GET /admin/api-keys.
func (s *Server) listAPIKeysHandler(c *echo.Context) error {
	keys, err := s.securityMgr.ListAPIKeys(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	if keys == nil {
		keys = []*models.APIKeyInfo{}
	}
	return c.JSON(http.StatusOK, &models.APIKeyListResponse{Keys: keys})
}

// revokeAPIKeyHandler handles DELETE /admin/api-keys/:id.
func (s *Server) revokeAPIKeyHandler(c *echo.Context) error {
	keyID := c.Param("id")
	if keyID == "" {
		return s.writeError(c, fault.New(fault.KindValidation, "key id is required"))
	}

	revoked, err := s.securityMgr.RevokeAPIKey(c.Request().Context(), keyID)
	if err != nil {
		return s.writeError(c, err)
	}
	if !revoked {
		return s.writeError(c, errNotFound)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked", "key_id": keyID})
}
