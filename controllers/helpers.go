package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apperrors "github.com/phillip/case-funding-ledger/apperrors"
	authz "github.com/phillip/case-funding-ledger/authz"
	config "github.com/phillip/case-funding-ledger/config"
	store "github.com/phillip/case-funding-ledger/store"
)

// respondError writes err as {"error": KIND, "message": text}.
func respondError(cfg *config.Config, c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		err = apperrors.NotFound("record not found")
	}
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal || kind == apperrors.KindConfiguration {
		cfg.Logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
			"error", err)
	}
	c.JSON(apperrors.HTTPStatus(kind), gin.H{"error": kind, "message": apperrors.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.KindValidation, "message": msg})
}

// authContext returns the caller stored by the auth middleware.
func authContext(c *gin.Context) authz.Context {
	id, err := primitive.ObjectIDFromHex(c.GetString("user_id"))
	if err != nil {
		return authz.Context{}
	}
	return authz.Context{CallerID: id, Role: c.GetString("role")}
}

// paramID parses the :id path parameter; what names the resource in the
// error message.
func paramID(c *gin.Context, what string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid "+what+" id")
		return primitive.NilObjectID, false
	}
	return id, true
}
