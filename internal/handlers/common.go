// internal/handlers/common.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// bindJSON decodes and validates the request body, writing the error
// response itself on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), nil)
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func actorFromContext(c *gin.Context) services.Actor {
	userID, _ := utils.GetUserIDFromContext(c)
	return services.Actor{
		UserID:    userID,
		IP:        utils.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
	}
}
