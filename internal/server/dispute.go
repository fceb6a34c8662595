package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	disputedomain "github.com/samujjwal/rental-sub004/internal/dispute/domain"
)

type openDisputeRequest struct {
	BookingID     string `json:"booking_id"`
	InitiatorID   string `json:"initiator_id"`
	DefendantID   string `json:"defendant_id"`
	Type          string `json:"type"`
	ClaimedAmount int64  `json:"claimed_amount"`
	Description   string `json:"description"`
}

func (s *Server) OpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	bookingID, err := parseID(req.BookingID)
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_booking_id", "invalid booking_id"))
		return
	}
	initiatorID, err := parseID(req.InitiatorID)
	if err != nil {
		AbortWithError(c, newValidationError("initiator_id", "invalid_initiator_id", "invalid initiator_id"))
		return
	}
	defendantID, err := parseID(req.DefendantID)
	if err != nil {
		AbortWithError(c, newValidationError("defendant_id", "invalid_defendant_id", "invalid defendant_id"))
		return
	}

	resp, err := s.disputeSvc.Open(c.Request.Context(), disputedomain.OpenRequest{
		BookingID:     bookingID,
		InitiatorID:   initiatorID,
		DefendantID:   defendantID,
		Type:          disputedomain.DisputeType(strings.ToUpper(strings.TrimSpace(req.Type))),
		ClaimedAmount: req.ClaimedAmount,
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetDisputeByID(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid dispute id"))
		return
	}

	dispute, resolution, err := s.disputeSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"dispute":    dispute,
		"resolution": resolution,
	}})
}

type assignDisputeRequest struct {
	Assignee string `json:"assignee"`
}

func (s *Server) AssignDispute(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid dispute id"))
		return
	}

	var req assignDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	assignee := strings.TrimSpace(req.Assignee)
	if assignee == "" {
		AbortWithError(c, newValidationError("assignee", "invalid_assignee", "assignee is required"))
		return
	}

	resp, err := s.disputeSvc.Assign(c.Request.Context(), id, assignee)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type moveDisputeRequest struct {
	Status string `json:"status"`
}

func (s *Server) MoveDispute(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid dispute id"))
		return
	}

	var req moveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.disputeSvc.Move(c.Request.Context(), id, disputedomain.Status(strings.ToUpper(strings.TrimSpace(req.Status))))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type resolveDisputeRequest struct {
	Outcome          string `json:"outcome"`
	RefundAmount     int64  `json:"refund_amount"`
	PayoutAdjustment int64  `json:"payout_adjustment"`
	ResolvedBy       string `json:"resolved_by"`
	Notes            string `json:"notes"`
}

func (s *Server) ResolveDispute(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid dispute id"))
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.disputeSvc.Resolve(c.Request.Context(), disputedomain.ResolveRequest{
		DisputeID:        id,
		Outcome:          disputedomain.Outcome(strings.ToUpper(strings.TrimSpace(req.Outcome))),
		RefundAmount:     req.RefundAmount,
		PayoutAdjustment: req.PayoutAdjustment,
		ResolvedBy:       strings.TrimSpace(req.ResolvedBy),
		Notes:            strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
