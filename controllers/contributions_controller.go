package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apperrors "github.com/phillip/case-funding-ledger/apperrors"
	config "github.com/phillip/case-funding-ledger/config"
	ledger "github.com/phillip/case-funding-ledger/ledger"
	utils "github.com/phillip/case-funding-ledger/utils"
)

type outcomeResponse struct {
	*ledger.Outcome
	Degraded    bool     `json:"degraded"`
	FailedSteps []string `json:"failed_steps,omitempty"`
}

func newOutcomeResponse(out *ledger.Outcome) outcomeResponse {
	return outcomeResponse{Outcome: out, Degraded: out.Degraded(), FailedSteps: out.FailedSteps()}
}

// ---------------- CREATE ----------------
func CreateContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			CaseID          primitive.ObjectID  `json:"case_id" binding:"required"`
			DonorID         *primitive.ObjectID `json:"donor_id"`
			Anonymous       bool                `json:"anonymous"`
			Amount          decimal.Decimal     `json:"amount"`
			PaymentMethodID primitive.ObjectID  `json:"payment_method_id" binding:"required"`
			Notes           string              `json:"notes"`
			RevisionOf      *primitive.ObjectID `json:"revision_of"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		contribution, err := cfg.Ledger.CreateContribution(ctx, authContext(c), ledger.NewContribution{
			CaseID:          input.CaseID,
			DonorID:         input.DonorID,
			Anonymous:       input.Anonymous,
			Amount:          input.Amount,
			PaymentMethodID: input.PaymentMethodID,
			Notes:           input.Notes,
			RevisionOf:      input.RevisionOf,
		})
		if err != nil {
			respondError(cfg, c, err)
			return
		}

		c.JSON(http.StatusCreated, contribution)
	}
}

// ---------------- GET ----------------
func GetContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "contribution")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		contribution, approval, err := cfg.Ledger.Get(ctx, authContext(c), id)
		if err != nil {
			respondError(cfg, c, err)
			return
		}

		updatedAt := contribution.UpdatedAt
		if approval != nil && approval.UpdatedAt.After(updatedAt) {
			updatedAt = approval.UpdatedAt
		}
		etag := utils.GenerateETag(contribution.ID, updatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		c.Header("Last-Modified", updatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, gin.H{
			"contribution": contribution,
			"approval":     approval,
		})
	}
}

// ---------------- DECISION ----------------

// SubmitDecision accepts JSON or multipart form data. A "proof" file in a
// multipart request is uploaded and recorded as the proof reference.
func SubmitDecision(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "contribution")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var d ledger.Decision
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if err := c.ShouldBind(&d); err != nil {
				badRequest(c, err.Error())
				return
			}
			if _, err := c.FormFile("proof"); err == nil {
				url, err := uploadProof(ctx, cfg, c)
				if err != nil {
					respondError(cfg, c, err)
					return
				}
				d.ProofRef = url
			}
		} else if err := c.ShouldBindJSON(&d); err != nil {
			badRequest(c, err.Error())
			return
		}

		out, err := cfg.Ledger.SubmitDecision(ctx, authContext(c), id, d)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, newOutcomeResponse(out))
	}
}

// ---------------- RESUBMIT ----------------
func ResubmitContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "contribution")
		if !ok {
			return
		}

		var input struct {
			DonorReply string `json:"donor_reply"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		out, err := cfg.Ledger.Resubmit(ctx, authContext(c), id, input.DonorReply)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusOK, newOutcomeResponse(out))
	}
}

// ---------------- PROOF ----------------

// UploadProof stores a payment proof for a contribution the caller may see.
// The returned URL is passed as proof_ref with the next decision.
func UploadProof(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "contribution")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if _, _, err := cfg.Ledger.Get(ctx, authContext(c), id); err != nil {
			respondError(cfg, c, err)
			return
		}

		url, err := uploadProof(ctx, cfg, c)
		if err != nil {
			respondError(cfg, c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"url": url})
	}
}

func uploadProof(ctx context.Context, cfg *config.Config, c *gin.Context) (string, error) {
	if cfg.Uploader == nil {
		return "", apperrors.Configuration("proof uploads are not configured")
	}
	fileHeader, err := c.FormFile("proof")
	if err != nil {
		return "", apperrors.Validation("proof file is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", apperrors.Internal(err, "failed to open file")
	}
	defer file.Close()

	url, err := cfg.Uploader.UploadProof(ctx, file, fileHeader)
	if err != nil {
		return "", apperrors.Internal(err, "proof upload failed")
	}
	return url, nil
}
