package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/memstore"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/parsers"
	service "settlement-reconciliation-engine/internal/services/reconciliation"
	"settlement-reconciliation-engine/internal/services/matching"
	"settlement-reconciliation-engine/internal/services/resolution"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
	svc    *service.ReconciliationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	svc := service.NewReconciliationService(service.Deps{
		Store:     store,
		Documents: store.Documents(),
		Registry:  parsers.DefaultRegistry(parsers.Options{Currency: "CHF"}),
		Engine:    matching.NewEngine(matching.DefaultConfig()),
		Policy:    resolution.NewPolicy(resolution.DefaultConfig()),
	}, service.Options{MaxUploadBytes: 1 << 20})

	h := NewReconciliationHandler(svc, zap.NewNop(), 1<<20)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), RequestLogger(zap.NewNop()))
	g := r.Group("/api/reconciliation", RequireOrganization())
	g.POST("/upload", h.Upload)
	g.GET("/sessions/:sessionId", h.GetSession)
	g.GET("/sessions/:sessionId/events", h.StreamProgress)
	g.GET("/sessions/:sessionId/result", h.GetResult)
	g.GET("/sessions/:sessionId/transactions", h.ListTransactions)
	g.POST("/sessions/:sessionId/close", h.CloseSession)
	g.POST("/sessions/:sessionId/transactions/:id/approve", h.ApproveMatch)
	g.POST("/sessions/:sessionId/transactions/:id/unmatched", h.MarkUnmatched)
	return &testServer{router: r, store: store, svc: svc}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set(HeaderOrganization, "org-1")
	req.Header.Set(HeaderOperator, "op-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func (s *testServer) importSumUp(t *testing.T) (uuid.UUID, models.POSRecord) {
	t.Helper()
	approx := models.POSRecord{ID: uuid.New(), OrganizationID: "org-1", Kind: models.POSKindSale, Amount: 120000,
		PaymentMethod: "card", Timestamp: time.Date(2025, 3, 4, 16, 0, 0, 0, time.UTC)}
	s.store.AddPOSRecords(approx)

	content, err := os.ReadFile(filepath.Join("..", "parsers", "testdata", "sumup.csv"))
	require.NoError(t, err)
	w := s.do(t, uploadRequest(t, "/api/reconciliation/upload?wait=true", "sumup.csv", content))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	decode(t, w, &resp)
	require.Equal(t, "completed", resp.Status)
	return uuid.MustParse(resp.SessionID), approx
}

func TestUpload_RequiresOrganization(t *testing.T) {
	s := newTestServer(t)
	req := uploadRequest(t, "/api/reconciliation/upload", "sumup.csv", []byte("x"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, uploadRequest(t, "/api/reconciliation/upload", "notes.txt", []byte("hello world")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "UNSUPPORTED_FORMAT", body.Error.Code)
}

func TestUpload_StartsInBackground(t *testing.T) {
	s := newTestServer(t)
	content, err := os.ReadFile(filepath.Join("..", "parsers", "testdata", "twint.csv"))
	require.NoError(t, err)

	w := s.do(t, uploadRequest(t, "/api/reconciliation/upload", "twint.csv", content))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decode(t, w, &resp)
	s.svc.Wait()

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/reconciliation/sessions/"+resp.SessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var session models.ImportSession
	decode(t, w, &session)
	assert.Equal(t, models.StateCompleted, session.State)
	assert.Equal(t, models.SourceTwint, session.Source)

	// the finished session streams its terminal event and ends
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/reconciliation/sessions/"+resp.SessionID+"/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:progress")
	assert.Contains(t, w.Body.String(), `"step":"completed"`)
}

func TestApprove_SecondCallConflicts(t *testing.T) {
	s := newTestServer(t)
	sessionID, approx := s.importSumUp(t)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/reconciliation/sessions/"+sessionID.String()+"/transactions?status=review", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []service.TransactionView `json:"items"`
		Stats service.SessionStats      `json:"stats"`
	}
	decode(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(3), page.Stats.Total)
	txnID := page.Items[0].ID

	path := "/api/reconciliation/sessions/" + sessionID.String() + "/transactions/" + txnID.String() + "/approve"
	body := `{"pos_record_id":"` + approx.ID.String() + `"}`

	w = s.do(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
	var errResp errorBody
	decode(t, w, &errResp)
	assert.Equal(t, "ALREADY_DECIDED", errResp.Error.Code)
	assert.Equal(t, txnID.String(), errResp.Error.Details["transaction_id"])
}

func TestMarkUnmatched_InvalidReason(t *testing.T) {
	s := newTestServer(t)
	sessionID, _ := s.importSumUp(t)
	path := "/api/reconciliation/sessions/" + sessionID.String() + "/transactions/" + uuid.NewString() + "/unmatched"

	w := s.do(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"reason":"lost"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp errorBody
	decode(t, w, &errResp)
	assert.Equal(t, "INVALID_REASON", errResp.Error.Code)

	w = s.do(t, httptest.NewRequest(http.MethodPost, "/api/reconciliation/sessions/not-a-uuid/close", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodPost, "/api/reconciliation/sessions/"+sessionID.String()+"/close", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	decode(t, w, &errResp)
	assert.Equal(t, "REVIEW_INCOMPLETE", errResp.Error.Code)
}
