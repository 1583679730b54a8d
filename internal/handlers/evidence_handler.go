package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"threatlens/internal/apperrors"
	"threatlens/internal/auth"
	"threatlens/internal/evidence"
	"threatlens/internal/ledger"
	"threatlens/internal/records"
)

// StreamServer upgrades a request into a live event feed.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request) error
}

// EvidenceHandler exposes the evidence service over HTTP.
type EvidenceHandler struct {
	svc    *evidence.Service
	stream StreamServer
	logger *zap.Logger
}

// NewEvidenceHandler creates the handler. stream may be nil, in which case
// the ledger feed route is not registered.
func NewEvidenceHandler(svc *evidence.Service, stream StreamServer, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		svc:    svc,
		stream: stream,
		logger: logger.Named("evidence_handler"),
	}
}

// RegisterRoutes mounts every evidence route on r. reportLimit, when non
// nil, guards the public report submission.
func (h *EvidenceHandler) RegisterRoutes(r gin.IRoutes, reportLimit gin.HandlerFunc) {
	r.POST("/alerts", h.CreateAlert)
	r.GET("/alerts", h.ListAlerts)
	r.GET("/alerts/:id", h.GetAlert)

	r.POST("/log-alert", h.LogAlert)
	r.GET("/log-alert/:refId", h.GetLogEntry)
	r.GET("/log-alerts", h.ListLogEntries)
	r.GET("/log-alerts/verify", h.VerifyLedger)
	if h.stream != nil {
		r.GET("/log-alerts/stream", h.StreamLedger)
	}

	if reportLimit != nil {
		r.POST("/report", reportLimit, h.SubmitReport)
	} else {
		r.POST("/report", h.SubmitReport)
	}
	r.GET("/reports", h.ListReports)
	r.GET("/reports/:id", h.GetReport)
}

func credential(c *gin.Context) string {
	return auth.BearerToken(c.GetHeader("Authorization"))
}

// CreateAlert handles POST /alerts.
func (h *EvidenceHandler) CreateAlert(c *gin.Context) {
	var req evidence.AlertInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, invalidBody(err))
		return
	}

	alert, err := h.svc.CreateAlert(c.Request.Context(), credential(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": alert})
}

// ListAlerts handles GET /alerts.
func (h *EvidenceHandler) ListAlerts(c *gin.Context) {
	var params records.ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondError(c, h.logger, apperrors.Wrap(apperrors.KindValidation, err, "invalid query parameters"))
		return
	}

	page, err := h.svc.ListAlerts(c.Request.Context(), credential(c), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetAlert handles GET /alerts/:id.
func (h *EvidenceHandler) GetAlert(c *gin.Context) {
	alert, err := h.svc.GetAlert(c.Request.Context(), credential(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

type logAlertRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// LogAlert handles POST /log-alert.
func (h *EvidenceHandler) LogAlert(c *gin.Context) {
	var req logAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, invalidBody(err))
		return
	}

	receipt, err := h.svc.LogAlert(c.Request.Context(), credential(c), req.Payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// GetLogEntry handles GET /log-alert/:refId.
func (h *EvidenceHandler) GetLogEntry(c *gin.Context) {
	entry, err := h.svc.GetLogEntry(c.Request.Context(), credential(c), c.Param("refId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// ListLogEntries handles GET /log-alerts.
func (h *EvidenceHandler) ListLogEntries(c *gin.Context) {
	listing, err := h.svc.ListLogEntries(c.Request.Context(), credential(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type verifyFailure struct {
	ErrorResponse
	Report *ledger.VerifyReport `json:"report,omitempty"`
}

// VerifyLedger handles GET /log-alerts/verify. A broken chain is reported
// with the integrity error status and the full report.
func (h *EvidenceHandler) VerifyLedger(c *gin.Context) {
	report, err := h.svc.VerifyLedger(c.Request.Context(), credential(c))
	if err != nil {
		if report == nil {
			respondError(c, h.logger, err)
			return
		}
		kind := apperrors.KindOf(err)
		h.logger.Error("Ledger verification failed", zap.Strings("problems", report.Problems))
		c.JSON(apperrors.HTTPStatus(kind), verifyFailure{
			ErrorResponse: ErrorResponse{Error: kind, Message: apperrors.MessageOf(err)},
			Report:        report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// StreamLedger handles GET /log-alerts/stream. Browsers cannot set headers
// on a websocket handshake, so the credential may also come as ?token=.
func (h *EvidenceHandler) StreamLedger(c *gin.Context) {
	cred := credential(c)
	if cred == "" {
		cred = c.Query("token")
	}
	if err := h.svc.AuthorizeLedgerStream(cred); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.stream.ServeWS(c.Writer, c.Request); err != nil {
		h.logger.Warn("Failed to open ledger stream", zap.Error(err))
	}
}

// SubmitReport handles POST /report.
func (h *EvidenceHandler) SubmitReport(c *gin.Context) {
	var req evidence.ReportInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, invalidBody(err))
		return
	}

	id, err := h.svc.SubmitReport(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reportId": id})
}

// ListReports handles GET /reports.
func (h *EvidenceHandler) ListReports(c *gin.Context) {
	var params records.ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondError(c, h.logger, apperrors.Wrap(apperrors.KindValidation, err, "invalid query parameters"))
		return
	}

	page, err := h.svc.ListReports(c.Request.Context(), credential(c), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetReport handles GET /reports/:id.
func (h *EvidenceHandler) GetReport(c *gin.Context) {
	report, err := h.svc.GetReport(c.Request.Context(), credential(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
