package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
	service "settlement-reconciliation-engine/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service        *service.ReconciliationService
	log            *zap.Logger
	maxUploadBytes int64
}

func NewReconciliationHandler(s *service.ReconciliationService, log *zap.Logger, maxUploadBytes int64) *ReconciliationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationHandler{service: s, log: log, maxUploadBytes: maxUploadBytes}
}

// respondError writes the error envelope. Unknown errors are logged and hidden.
func (h *ReconciliationHandler) respondError(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	if code == "" {
		h.log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    apperror.CodeInternal,
			"message": "internal error",
		}})
		return
	}
	var appErr *apperror.Error
	errors.As(err, &appErr)
	body := gin.H{"code": code, "message": appErr.Message}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(apperror.HTTPStatus(code), gin.H{"error": body})
}

func (h *ReconciliationHandler) badRequest(c *gin.Context, msg string) {
	h.respondError(c, apperror.New(apperror.CodeValidation, msg))
}

func (h *ReconciliationHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		h.badRequest(c, "invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReconciliationHandler) transactionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "invalid transaction ID")
		return uuid.Nil, false
	}
	return id, true
}

// Upload accepts a settlement file and starts the import in the background.
// With wait=true the import runs before responding.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.badRequest(c, "file required")
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.maxUploadBytes > 0 {
		reader = io.LimitReader(file, h.maxUploadBytes+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		h.badRequest(c, "cannot read file")
		return
	}

	req := service.ImportRequest{
		OrganizationID: Organization(c),
		Filename:       header.Filename,
		Content:        content,
		Source:         models.SourceKind(c.PostForm("source")),
		Period:         c.PostForm("period"),
		UploadedBy:     Operator(c),
	}

	h.log.Info("Settlement file received",
		zap.String("organization_id", req.OrganizationID),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	var session *models.ImportSession
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		session, err = h.service.Import(c.Request.Context(), req)
	} else {
		session, err = h.service.Start(c.Request.Context(), req)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if session.State.Terminal() {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"session_id": session.ID.String(),
		"status":     session.State,
		"replayed":   session.Replayed,
		"session":    session,
	})
}

func (h *ReconciliationHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.service.ListSessions(c.Request.Context(), Organization(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.ImportSession{}
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func (h *ReconciliationHandler) GetSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	session, err := h.service.GetSession(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ReconciliationHandler) GetProgress(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	ev, err := h.service.GetProgress(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// StreamProgress pushes progress events as server-sent events until the
// session reaches a terminal state or the client goes away.
func (h *ReconciliationHandler) StreamProgress(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	events, cancel, err := h.service.Subscribe(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			c.SSEvent("progress", ev)
			c.Writer.Flush()
			if ev.Terminal() {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *ReconciliationHandler) GetResult(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	result, err := h.service.GetResult(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	page, err := h.service.ListTransactions(c.Request.Context(), service.ListQuery{
		OrganizationID: Organization(c),
		SessionID:      id,
		Status:         c.Query("status"),
		Search:         c.Query("search"),
		Cursor:         c.Query("cursor"),
		Limit:          limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       page.Items,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
		"stats":       stats,
	})
}

func (h *ReconciliationHandler) GetStats(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) GetAuditLog(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	logs, err := h.service.AuditLog(c.Request.Context(), Organization(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if logs == nil {
		logs = []models.MatchAuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

type decisionPayload struct {
	POSRecordID string `json:"pos_record_id"`
	Notes       string `json:"notes"`
}

// decisionRequest binds the body shared by approve, reject and manual match.
func (h *ReconciliationHandler) decisionRequest(c *gin.Context) (service.DecisionRequest, bool) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return service.DecisionRequest{}, false
	}
	txnID, ok := h.transactionID(c)
	if !ok {
		return service.DecisionRequest{}, false
	}
	var payload decisionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.badRequest(c, "invalid payload")
		return service.DecisionRequest{}, false
	}
	posID, err := uuid.Parse(payload.POSRecordID)
	if err != nil {
		h.badRequest(c, "invalid POS record ID")
		return service.DecisionRequest{}, false
	}
	return service.DecisionRequest{
		OrganizationID: Organization(c),
		SessionID:      sessionID,
		TransactionID:  txnID,
		POSRecordID:    posID,
		OperatorID:     Operator(c),
		Notes:          payload.Notes,
	}, true
}

func (h *ReconciliationHandler) ApproveMatch(c *gin.Context) {
	req, ok := h.decisionRequest(c)
	if !ok {
		return
	}
	d, err := h.service.ApproveMatch(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match approved", "decision": d})
}

func (h *ReconciliationHandler) RejectMatch(c *gin.Context) {
	req, ok := h.decisionRequest(c)
	if !ok {
		return
	}
	d, err := h.service.RejectMatch(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match rejected", "decision": d})
}

func (h *ReconciliationHandler) ManualMatch(c *gin.Context) {
	req, ok := h.decisionRequest(c)
	if !ok {
		return
	}
	d, err := h.service.CreateManualMatch(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction manually matched", "decision": d})
}

func (h *ReconciliationHandler) MarkUnmatched(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	txnID, ok := h.transactionID(c)
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.badRequest(c, "invalid payload")
		return
	}

	d, err := h.service.MarkAsUnmatched(c.Request.Context(), service.UnmatchedRequest{
		OrganizationID: Organization(c),
		SessionID:      sessionID,
		TransactionID:  txnID,
		Reason:         models.UnmatchedReason(payload.Reason),
		OperatorID:     Operator(c),
		Notes:          payload.Notes,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction marked as unmatched", "decision": d})
}

func (h *ReconciliationHandler) CloseSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	session, err := h.service.CloseSession(c.Request.Context(), Organization(c), id, Operator(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session closed", "session": session})
}
