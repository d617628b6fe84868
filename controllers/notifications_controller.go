package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/phillip/case-funding-ledger/apperrors"
	config "github.com/phillip/case-funding-ledger/config"
	models "github.com/phillip/case-funding-ledger/models"
)

// ---------------- LIST ----------------
func ListNotifications(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := authContext(c)
		if !auth.Authenticated() {
			respondError(cfg, c, apperrors.Forbidden("authentication required"))
			return
		}

		unreadOnly := false
		if raw := c.Query("unread"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(c, "unread must be a boolean")
				return
			}
			unreadOnly = v
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		notifications, err := cfg.Store.ListNotifications(ctx, auth.CallerID, unreadOnly)
		if err != nil {
			respondError(cfg, c, apperrors.Internal(err, "could not fetch notifications"))
			return
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// ---------------- MARK READ ----------------
func MarkNotificationRead(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := authContext(c)
		if !auth.Authenticated() {
			respondError(cfg, c, apperrors.Forbidden("authentication required"))
			return
		}
		id, ok := paramID(c, "notification")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := cfg.Store.MarkNotificationRead(ctx, id, auth.CallerID); err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
	}
}
