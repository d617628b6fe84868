package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	config "github.com/phillip/case-funding-ledger/config"
	utils "github.com/phillip/case-funding-ledger/utils"
)

// ---------------- GET ----------------
func GetCase(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "case")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		found, err := cfg.Store.GetCase(ctx, id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}

		// --- ETag follows current_amount through updated_at ---
		etag := utils.GenerateETag(found.ID, found.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		c.Header("Last-Modified", found.UpdatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, found)
	}
}

// ---------------- RECOMPUTE ----------------
func RecomputeCase(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "case")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		total, err := cfg.Ledger.RecomputeCase(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"case_id": id.Hex(), "current_amount": total})
	}
}
