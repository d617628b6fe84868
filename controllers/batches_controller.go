package controllers

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	batch "github.com/phillip/case-funding-ledger/batch"
	config "github.com/phillip/case-funding-ledger/config"
)

// ---------------- CREATE ----------------
func CreateBatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "file is required")
			return
		}

		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			name = strings.TrimSuffix(fileHeader.Filename, filepath.Ext(fileHeader.Filename))
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "failed to open file"})
			return
		}
		defer file.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		b, items, err := cfg.Batches.Ingest(ctx, authContext(c), name, file)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"batch": b, "items": items})
	}
}

// ---------------- GET ----------------
func GetBatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "batch")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b, items, err := cfg.Batches.Get(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch": b, "items": items})
	}
}

// ---------------- MAPPINGS ----------------
func MapBatchNicknames(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "batch")
		if !ok {
			return
		}

		var input struct {
			Mappings []batch.NicknameMapping `json:"mappings"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := cfg.Batches.MapNicknames(ctx, authContext(c), id, input.Mappings)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ---------------- PROCESS ----------------
func ProcessBatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "batch")
		if !ok {
			return
		}

		// processing outlives a dropped client connection
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		res, err := cfg.Batches.Process(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ---------------- REPAIR ----------------
func RepairBatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "batch")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b, err := cfg.Batches.Repair(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// ---------------- DELETE ----------------
func DeleteBatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "batch")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		res, err := cfg.Batches.Delete(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
