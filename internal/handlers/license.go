// internal/handlers/license.go
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// LicenseKeyHandler is the admin API over the key pool.
type LicenseKeyHandler struct {
	keyService *services.KeyService
}

func NewLicenseKeyHandler(keyService *services.KeyService) *LicenseKeyHandler {
	return &LicenseKeyHandler{
		keyService: keyService,
	}
}

// GET /admin/keys
func (h *LicenseKeyHandler) GetKeys(c *gin.Context) {
	params := utils.PageParamsFromQuery(c)

	filter := models.KeyListFilter{
		ProductKey: c.Query("product_key"),
		Status:     models.KeyStatus(strings.ToLower(c.Query("status"))),
		Search:     c.Query("search"),
		Page:       params.Page,
		Limit:      params.Limit,
		Sort:       params.Sort,
		Order:      params.Order,
	}

	keys, total, err := h.keyService.List(c.Request.Context(), filter)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	result := utils.NewPageResult(keys, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /admin/keys/stats
func (h *LicenseKeyHandler) GetStats(c *gin.Context) {
	stats, err := h.keyService.Stats(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// POST /admin/keys/import
func (h *LicenseKeyHandler) ImportKeys(c *gin.Context) {
	var req services.ImportKeysRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.keyService.Import(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// POST /admin/keys/import-s3
func (h *LicenseKeyHandler) ImportKeysFromS3(c *gin.Context) {
	var req services.ImportS3Request
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.keyService.ImportFromS3(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// POST /admin/keys/:id/return
func (h *LicenseKeyHandler) ReturnKey(c *gin.Context) {
	keyID, ok := parseID(c, "id")
	if !ok {
		return
	}

	key, err := h.keyService.Return(c.Request.Context(), keyID, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, key)
}

// POST /admin/keys/:id/revoke
func (h *LicenseKeyHandler) RevokeKey(c *gin.Context) {
	keyID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.RevokeKeyRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	key, err := h.keyService.Revoke(c.Request.Context(), keyID, req.Reason, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, key)
}

// DELETE /admin/keys/:id
func (h *LicenseKeyHandler) DeleteKey(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	keyID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.keyService.Delete(c.Request.Context(), keyID, actorFromContext(c)); err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			utils.NotFoundResponse(c, "license_key")
			return
		}
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseKeyDeleted),
	})
}
