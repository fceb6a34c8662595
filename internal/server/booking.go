package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
)

type createBookingRequest struct {
	ListingID  string    `json:"listing_id"`
	RenterID   string    `json:"renter_id"`
	OwnerID    string    `json:"owner_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	GuestCount int       `json:"guest_count"`

	BasePrice      int64  `json:"base_price"`
	ServiceFee     int64  `json:"service_fee"`
	Tax            int64  `json:"tax"`
	DiscountAmount int64  `json:"discount_amount"`
	DepositAmount  int64  `json:"deposit_amount"`
	OwnerEarnings  int64  `json:"owner_earnings"`
	PlatformFee    int64  `json:"platform_fee"`
	Currency       string `json:"currency"`

	Mode               string `json:"mode"`
	CancellationPolicy string `json:"cancellation_policy"`
}

func (s *Server) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	listingID, err := parseID(req.ListingID)
	if err != nil {
		AbortWithError(c, newValidationError("listing_id", "invalid_listing_id", "invalid listing_id"))
		return
	}
	renterID, err := parseID(req.RenterID)
	if err != nil {
		AbortWithError(c, newValidationError("renter_id", "invalid_renter_id", "invalid renter_id"))
		return
	}
	ownerID, err := parseID(req.OwnerID)
	if err != nil {
		AbortWithError(c, newValidationError("owner_id", "invalid_owner_id", "invalid owner_id"))
		return
	}
	if !req.EndAt.After(req.StartAt) {
		AbortWithError(c, newValidationError("end_at", "invalid_period", "end_at must be after start_at"))
		return
	}

	resp, err := s.bookingSvc.Create(c.Request.Context(), bookingdomain.CreateRequest{
		ListingID:  listingID,
		RenterID:   renterID,
		OwnerID:    ownerID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		GuestCount: req.GuestCount,

		BasePrice:      req.BasePrice,
		ServiceFee:     req.ServiceFee,
		Tax:            req.Tax,
		DiscountAmount: req.DiscountAmount,
		DepositAmount:  req.DepositAmount,
		OwnerEarnings:  req.OwnerEarnings,
		PlatformFee:    req.PlatformFee,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),

		Mode:               bookingdomain.Mode(strings.ToUpper(strings.TrimSpace(req.Mode))),
		CancellationPolicy: strings.ToUpper(strings.TrimSpace(req.CancellationPolicy)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetBookingByID(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid booking id"))
		return
	}

	resp, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBookingHistory(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid booking id"))
		return
	}

	resp, err := s.bookingSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBookingLedger(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid booking id"))
		return
	}

	balances, err := s.ledgerSvc.BookingBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entries, err := s.ledgerSvc.EntriesByBooking(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balances": balances,
		"entries":  entries,
	}})
}

func (s *Server) GetBookingDeposit(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid booking id"))
		return
	}

	hold, err := s.depositSvc.ActiveHold(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": hold})
}

type transitionBookingRequest struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) TransitionBooking(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid booking id"))
		return
	}

	var req transitionBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	action := bookingdomain.Action(strings.ToUpper(strings.TrimSpace(req.Action)))
	if action == "" {
		AbortWithError(c, newValidationError("action", "invalid_action", "action is required"))
		return
	}

	// Shed concurrent transitions on the same booking before they pile up on
	// the row lock.
	token, err := s.locker.TryLock(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.locker.Release(c.Request.Context(), id, token)

	resp, err := s.bookingSvc.Transition(c.Request.Context(), bookingdomain.TransitionRequest{
		BookingID: id,
		Action:    action,
		Actor:     strings.TrimSpace(req.Actor),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if errors.Is(err, paymentdomain.ErrExternalPending) {
		// The charge is in flight at the provider. The settlement sweep polls
		// it to completion; the booking state has not changed.
		c.JSON(http.StatusAccepted, gin.H{
			"data":           resp,
			"payment_status": "PENDING",
		})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
