package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateETag derives a strong ETag from a record id and its last update.
func GenerateETag(id primitive.ObjectID, updatedAt time.Time) string {
	h := sha1.New()
	h.Write([]byte(id.Hex()))
	h.Write([]byte(strconv.FormatInt(updatedAt.UTC().UnixNano(), 10)))
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}
