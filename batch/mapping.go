package batch

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

// NicknameMapping assigns a system user to every item carrying Nickname. A
// nil UserID clears the mapping.
type NicknameMapping struct {
	Nickname string              `json:"nickname"`
	UserID   *primitive.ObjectID `json:"user_id"`
}

type MappingError struct {
	Nickname string `json:"nickname"`
	Error    string `json:"error"`
}

type MapResult struct {
	Updated int64          `json:"updated"`
	Errors  []MappingError `json:"errors"`
}

// MapNicknames applies mappings to a pending batch. A bad mapping is reported
// in the result and does not stop the others.
func (p *Pipeline) MapNicknames(ctx context.Context, auth authz.Context, batchID primitive.ObjectID, mappings []NicknameMapping) (*MapResult, error) {
	if !auth.IsAdmin() {
		return nil, apperrors.Forbidden("only administrators can map batch nicknames")
	}
	b, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BatchPending {
		return nil, apperrors.Validation("nicknames can only be mapped while the batch is pending, it is %s", b.Status)
	}
	if len(mappings) == 0 {
		return nil, apperrors.Validation("no mappings supplied")
	}

	res := &MapResult{Errors: []MappingError{}}
	now := p.now().UTC()
	for _, m := range mappings {
		nickname := strings.TrimSpace(m.Nickname)
		if nickname == "" {
			res.Errors = append(res.Errors, MappingError{Nickname: m.Nickname, Error: "nickname is required"})
			continue
		}

		if m.UserID != nil {
			_, err := p.store.GetUser(ctx, *m.UserID)
			if errors.Is(err, store.ErrNotFound) {
				res.Errors = append(res.Errors, MappingError{Nickname: nickname, Error: "user not found"})
				continue
			}
			if err != nil {
				return nil, apperrors.Internal(err, "failed to load user")
			}
		}

		n, err := p.store.SetNicknameMapping(ctx, batchID, nickname, m.UserID, now)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to map nickname %q", nickname)
		}
		if n == 0 {
			res.Errors = append(res.Errors, MappingError{Nickname: nickname, Error: "no items carry this nickname"})
			continue
		}
		res.Updated += n
	}

	p.logger.Info("batch nicknames mapped",
		"batch_id", batchID.Hex(),
		"updated", res.Updated,
		"errors", len(res.Errors))
	return res, nil
}
