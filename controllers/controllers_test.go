package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	batch "github.com/phillip/case-funding-ledger/batch"
	config "github.com/phillip/case-funding-ledger/config"
	ledger "github.com/phillip/case-funding-ledger/ledger"
	lock "github.com/phillip/case-funding-ledger/lock"
	models "github.com/phillip/case-funding-ledger/models"
	notify "github.com/phillip/case-funding-ledger/notify"
	routes "github.com/phillip/case-funding-ledger/routes"
	store "github.com/phillip/case-funding-ledger/store"
	storetest "github.com/phillip/case-funding-ledger/store/storetest"
	utils "github.com/phillip/case-funding-ledger/utils"
)

const secret = "test-secret"

type fakeUploader struct {
	uploads []string
}

func (u *fakeUploader) UploadProof(_ context.Context, file multipart.File, header *multipart.FileHeader) (string, error) {
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	u.uploads = append(u.uploads, header.Filename)
	return "https://res.cloudinary.com/demo/image/upload/v1/payment-proofs/" + header.Filename, nil
}

type server struct {
	t      *testing.T
	engine *gin.Engine
	cfg    *config.Config
	store  *store.SQLiteStore
	admin  *models.User
	donor  *models.User
	other  *models.User
	pm     *models.PaymentMethod
}

func newServer(t *testing.T, uploader utils.ProofUploader) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := storetest.NewSQLite(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := ledger.NewAggregator(s, lock.NewKeyedMutex(), ledger.StrategyRecompute, logger)
	svc := ledger.NewService(s, agg, notify.NewInApp(s), logger)

	cfg := &config.Config{
		JWTSecret: secret,
		Store:     s,
		Ledger:    svc,
		Batches:   batch.NewPipeline(s, svc, batch.Config{}, logger),
		Uploader:  uploader,
		Logger:    logger,
	}
	r := gin.New()
	routes.SetupRoutes(r, cfg)

	return &server{
		t:      t,
		engine: r,
		cfg:    cfg,
		store:  s,
		admin:  storetest.User(t, s, "admin", models.RoleAdmin),
		donor:  storetest.User(t, s, "donor", models.RoleDonor),
		other:  storetest.User(t, s, "other", models.RoleDonor),
		pm:     storetest.PaymentMethod(t, s, "cash"),
	}
}

func (s *server) token(u *models.User) string {
	s.t.Helper()
	tok, err := utils.GenerateToken(secret, u.ID.Hex(), u.Role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(req *http.Request, as *models.User) *httptest.ResponseRecorder {
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(as))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *server) json(method, path string, body any, as *models.User) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, as)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *server) createContribution(caseID primitive.ObjectID, amount string) *models.Contribution {
	s.t.Helper()
	w := s.json(http.MethodPost, "/contributions", map[string]any{
		"case_id":           caseID.Hex(),
		"amount":            amount,
		"payment_method_id": s.pm.ID.Hex(),
	}, s.donor)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return ptr(decode[models.Contribution](s.t, w))
}

func ptr[T any](v T) *T { return &v }

func TestRequiresAuthentication(t *testing.T) {
	s := newServer(t, nil)
	w := s.json(http.MethodGet, "/cases/"+primitive.NewObjectID().Hex(), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApproveUpdatesCaseAndETag(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Roof repair", "500")
	contrib := s.createContribution(c.ID, "100")
	assert.Equal(t, models.ApprovalPending, contrib.Status)

	w := s.json(http.MethodPost, "/contributions/"+contrib.ID.Hex()+"/decision",
		map[string]string{"status": "approved", "admin_comment": "thanks"}, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[struct {
		Approval       models.Approval      `json:"approval"`
		PreviousStatus models.ApprovalState `json:"previous_status"`
		Degraded       bool                 `json:"degraded"`
	}](t, w)
	assert.Equal(t, models.ApprovalApproved, out.Approval.Status)
	assert.Equal(t, models.ApprovalPending, out.PreviousStatus)
	assert.False(t, out.Degraded)

	w = s.json(http.MethodGet, "/cases/"+c.ID.Hex(), nil, s.donor)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Case](t, w)
	assert.Equal(t, "100", got.CurrentAmount.String())

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/cases/"+c.ID.Hex(), nil)
	req.Header.Set("If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, s.do(req, s.donor).Code)

	// the donor was told
	w = s.json(http.MethodGet, "/notifications?unread=true", nil, s.donor)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[[]models.Notification](t, w)
	require.Len(t, inbox, 1)
	assert.Equal(t, notify.KindApproval, inbox[0].Kind)

	w = s.json(http.MethodPatch, "/notifications/"+inbox[0].ID.Hex()+"/read", nil, s.donor)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.json(http.MethodPatch, "/notifications/"+inbox[0].ID.Hex()+"/read", nil, s.other)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDecisionErrors(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Case", "100")
	contrib := s.createContribution(c.ID, "10")
	path := "/contributions/" + contrib.ID.Hex() + "/decision"

	tests := []struct {
		name     string
		path     string
		body     map[string]string
		as       *models.User
		wantCode int
		wantKind string
	}{
		{"reject needs a reason", path, map[string]string{"status": "rejected"}, s.admin, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown status", path, map[string]string{"status": "maybe"}, s.admin, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"donor cannot approve", path, map[string]string{"status": "approved"}, s.donor, http.StatusForbidden, "FORBIDDEN"},
		{"unknown contribution", "/contributions/" + primitive.NewObjectID().Hex() + "/decision", map[string]string{"status": "approved"}, s.admin, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", "/contributions/nope/decision", map[string]string{"status": "approved"}, s.admin, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.json(http.MethodPost, tt.path, tt.body, tt.as)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantKind, decode[errorBody](t, w).Error)
		})
	}
}

func TestRejectAndResubmit(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Case", "100")
	contrib := s.createContribution(c.ID, "25")
	base := "/contributions/" + contrib.ID.Hex()

	w := s.json(http.MethodPost, base+"/decision",
		map[string]string{"status": "rejected", "rejection_reason": "blurry receipt"}, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.json(http.MethodPost, base+"/resubmit", map[string]string{"donor_reply": "clearer copy"}, s.other)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.json(http.MethodPost, base+"/resubmit", map[string]string{"donor_reply": "clearer copy"}, s.donor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.json(http.MethodGet, base, nil, s.donor)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Contribution models.Contribution `json:"contribution"`
		Approval     models.Approval     `json:"approval"`
	}](t, w)
	assert.Equal(t, models.ApprovalPending, got.Contribution.Status)
	assert.Equal(t, 1, got.Approval.ResubmissionCount)
	assert.Equal(t, "clearer copy", got.Approval.DonorReply)
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	w = s.json(http.MethodGet, base, nil, s.other)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDecisionWithProofUpload(t *testing.T) {
	up := &fakeUploader{}
	s := newServer(t, up)
	c := storetest.Case(t, s.store, "Case", "100")
	contrib := s.createContribution(c.ID, "40")

	body, contentType := multipartBody(t, map[string]string{"status": "approved"}, "proof", "receipt.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/contributions/"+contrib.ID.Hex()+"/decision", body)
	req.Header.Set("Content-Type", contentType)
	w := s.do(req, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode[struct {
		Approval models.Approval `json:"approval"`
	}](t, w)
	assert.Equal(t, models.ApprovalApproved, out.Approval.Status)
	assert.Contains(t, out.Approval.ProofRef, "payment-proofs/receipt.jpg")
	assert.Equal(t, []string{"receipt.jpg"}, up.uploads)
}

func TestUploadProof(t *testing.T) {
	up := &fakeUploader{}
	s := newServer(t, up)
	c := storetest.Case(t, s.store, "Case", "100")
	contrib := s.createContribution(c.ID, "40")
	path := "/contributions/" + contrib.ID.Hex() + "/proof"

	body, contentType := multipartBody(t, nil, "proof", "mpesa.png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := s.do(req, s.donor)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "payment-proofs/mpesa.png")

	body, contentType = multipartBody(t, nil, "proof", "mpesa.png", []byte("png"))
	req = httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusForbidden, s.do(req, s.other).Code)
}

func TestUploadProofWithoutCloudinary(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Case", "100")
	contrib := s.createContribution(c.ID, "40")

	body, contentType := multipartBody(t, nil, "proof", "mpesa.png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/contributions/"+contrib.ID.Hex()+"/proof", body)
	req.Header.Set("Content-Type", contentType)
	w := s.do(req, s.donor)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "CONFIGURATION_ERROR", decode[errorBody](t, w).Error)
}

func TestCreateContributionValidation(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Case", "100")

	w := s.json(http.MethodPost, "/contributions", map[string]any{
		"case_id":           c.ID.Hex(),
		"amount":            "-5",
		"payment_method_id": s.pm.ID.Hex(),
	}, s.donor)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/contributions", map[string]any{
		"case_id":           primitive.NewObjectID().Hex(),
		"amount":            "5",
		"payment_method_id": s.pm.ID.Hex(),
	}, s.donor)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecomputeCase(t *testing.T) {
	s := newServer(t, nil)
	c := storetest.Case(t, s.store, "Case", "100")
	require.NoError(t, s.store.UpdateCaseCurrentAmount(context.Background(), c.ID, c.TargetAmount, time.Now()))

	w := s.json(http.MethodPost, "/cases/"+c.ID.Hex()+"/recompute", nil, s.donor)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.json(http.MethodPost, "/cases/"+c.ID.Hex()+"/recompute", nil, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"current_amount":"0"`)
}

func TestBatchLifecycle(t *testing.T) {
	s := newServer(t, nil)
	csv := "nickname,amount,case_key,case_title,month\nmo,30,C1,Family Ahmed,2025-03\nlee,70,C1,,\n"

	body, contentType := multipartBody(t, map[string]string{"name": "march"}, "file", "march.csv", []byte(csv))
	req := httptest.NewRequest(http.MethodPost, "/batches", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusForbidden, s.do(req, s.donor).Code)

	body, contentType = multipartBody(t, map[string]string{"name": "march"}, "file", "march.csv", []byte(csv))
	req = httptest.NewRequest(http.MethodPost, "/batches", body)
	req.Header.Set("Content-Type", contentType)
	w := s.do(req, s.admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Batch models.BatchUpload `json:"batch"`
		Items []models.BatchItem `json:"items"`
	}](t, w)
	require.Len(t, created.Items, 2)
	base := "/batches/" + created.Batch.ID.Hex()

	// processing before every nickname is mapped is refused
	w = s.json(http.MethodPost, base+"/mappings", map[string]any{
		"mappings": []map[string]any{{"nickname": "mo", "user_id": s.donor.ID.Hex()}},
	}, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.json(http.MethodPost, base+"/process", nil, s.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, base+"/mappings", map[string]any{
		"mappings": []map[string]any{
			{"nickname": "lee", "user_id": s.other.ID.Hex()},
			{"nickname": "ghost", "user_id": s.other.ID.Hex()},
		},
	}, s.admin)
	require.Equal(t, http.StatusOK, w.Code)
	mapped := decode[batch.MapResult](t, w)
	assert.EqualValues(t, 1, mapped.Updated)
	require.Len(t, mapped.Errors, 1)
	assert.Equal(t, "ghost", mapped.Errors[0].Nickname)

	w = s.json(http.MethodPost, base+"/process", nil, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[batch.ProcessResult](t, w)
	assert.Equal(t, models.BatchCompleted, res.Status)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.CasesCreated)

	w = s.json(http.MethodPost, base+"/repair", nil, s.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodGet, base, nil, s.admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = s.json(http.MethodDelete, base, nil, s.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	deleted := decode[batch.DeleteResult](t, w)
	assert.EqualValues(t, 1, deleted.DeletedCases)
	assert.EqualValues(t, 2, deleted.DeletedContributions)

	w = s.json(http.MethodGet, base, nil, s.admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBatchRequiresFile(t *testing.T) {
	s := newServer(t, nil)
	body, contentType := multipartBody(t, map[string]string{"name": "empty"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/batches", body)
	req.Header.Set("Content-Type", contentType)
	w := s.do(req, s.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
