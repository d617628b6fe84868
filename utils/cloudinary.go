package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const (
	ProofFolder   = "payment-proofs"
	ArchiveFolder = "batch-uploads"
)

// ProofUploader stores a payment proof and returns its public URL.
type ProofUploader interface {
	UploadProof(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error)
}

type Cloudinary struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinary(cloudName, apiKey, apiSecret string) (*Cloudinary, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, errors.New("cloudinary credentials are required")
	}
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary config error: %w", err)
	}
	return &Cloudinary{cld: cld}, nil
}

// ✅ Upload to "payment-proofs" folder
func (c *Cloudinary) UploadProof(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := c.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder: ProofFolder,
	})
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("upload error for %s: %s", header.Filename, resp.Error.Message)
	}
	return resp.SecureURL, nil
}

// Archive keeps the raw import file next to the batch. The returned URL is
// stored as the batch source reference.
func (c *Cloudinary) Archive(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       ArchiveFolder,
		PublicID:     strings.TrimSuffix(name, path.Ext(name)),
		ResourceType: "raw",
	})
	if err != nil {
		return "", fmt.Errorf("archive error: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("archive error: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}

// ✅ Delete an uploaded asset using its full URL
func (c *Cloudinary) Delete(ctx context.Context, assetURL string) error {
	publicID, resourceType, err := extractPublicID(assetURL)
	if err != nil {
		return fmt.Errorf("could not extract public ID: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

// 🔹 Helper: Extract Cloudinary public ID and resource type from full URL
//
// https://res.cloudinary.com/demo/image/upload/v1234567890/payment-proofs/abc123.jpg
// yields ("payment-proofs/abc123", "image"). Raw assets keep their extension.
func extractPublicID(assetURL string) (string, string, error) {
	parsedURL, err := url.Parse(assetURL)
	if err != nil {
		return "", "", err
	}

	parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	upload := -1
	for i, p := range parts {
		if p == "upload" {
			upload = i
			break
		}
	}
	if upload < 1 || upload == len(parts)-1 {
		return "", "", fmt.Errorf("invalid cloudinary URL format")
	}

	resourceType := parts[upload-1]
	rest := parts[upload+1:]
	if len(rest) > 1 && isVersion(rest[0]) {
		rest = rest[1:]
	}

	publicID := path.Join(rest...)
	if resourceType != "raw" {
		publicID = strings.TrimSuffix(publicID, path.Ext(publicID))
	}
	return publicID, resourceType, nil
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
