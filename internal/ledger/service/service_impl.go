package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	obsmetrics "github.com/samujjwal/rental-sub004/internal/observability/metrics"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *obsmetrics.Engine `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *obsmetrics.Engine
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
	}
}

func (s *Service) Post(ctx context.Context, req ledgerdomain.PostingRequest) (snowflake.ID, error) {
	var postingID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.PostTx(ctx, tx, req)
		if err != nil {
			return err
		}
		postingID = id
		return nil
	})
	return postingID, err
}

func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostingRequest) (snowflake.ID, error) {
	if err := validateRequest(&req); err != nil {
		s.rejectMetric(err)
		return 0, err
	}

	fingerprint := legFingerprint(req.Legs)

	// Duplicate idempotency keys are expected on retries. The unique index
	// is the arbiter; a replay with identical legs returns the stored
	// posting, anything else is a caller bug.
	existing, err := s.findByKey(ctx, tx, req.IdempotencyKey)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		posting := ledgerdomain.LedgerPosting{
			ID:              s.genID.Generate(),
			BookingID:       req.BookingID,
			TransactionType: req.TransactionType,
			Currency:        req.Currency,
			IdempotencyKey:  req.IdempotencyKey,
			LegFingerprint:  fingerprint,
			CreatedAt:       time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&posting).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				existing, err = s.findByKey(ctx, tx, req.IdempotencyKey)
				if err != nil {
					return 0, err
				}
			} else {
				return 0, err
			}
		} else {
			for _, leg := range req.Legs {
				entry := ledgerdomain.LedgerEntry{
					ID:              s.genID.Generate(),
					PostingID:       posting.ID,
					BookingID:       req.BookingID,
					AccountType:     leg.AccountType,
					Side:            leg.Side,
					Amount:          leg.Amount,
					Currency:        req.Currency,
					TransactionType: req.TransactionType,
					Status:          ledgerdomain.EntryPending,
					CreatedAt:       posting.CreatedAt,
				}
				if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
					return 0, err
				}
			}
			if s.metrics != nil {
				s.metrics.Postings.WithLabelValues(string(req.TransactionType)).Inc()
			}
			return posting.ID, nil
		}
	}

	if existing.LegFingerprint != fingerprint {
		s.log.Error("idempotency key replayed with different legs",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("booking_id", req.BookingID.String()),
		)
		s.rejectMetric(ledgerdomain.ErrIdempotencyConflict)
		return 0, ledgerdomain.ErrIdempotencyConflict
	}
	return existing.ID, nil
}

func (s *Service) BookingBalance(ctx context.Context, bookingID snowflake.ID) ([]ledgerdomain.AccountBalance, error) {
	if bookingID == 0 {
		return nil, ledgerdomain.ErrInvalidBooking
	}

	type row struct {
		AccountType ledgerdomain.AccountType
		Currency    string
		Net         int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Raw(
		`SELECT account_type, currency,
		        SUM(CASE WHEN side = 'DEBIT' THEN amount ELSE -amount END) AS net
		 FROM ledger_entries
		 WHERE booking_id = ? AND status != 'FAILED'
		 GROUP BY account_type, currency
		 ORDER BY account_type`,
		bookingID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	balances := make([]ledgerdomain.AccountBalance, 0, len(rows))
	for _, r := range rows {
		balances = append(balances, ledgerdomain.AccountBalance{
			AccountType: r.AccountType,
			Currency:    r.Currency,
			Net:         r.Net,
		})
	}
	return balances, nil
}

func (s *Service) EntriesByBooking(ctx context.Context, bookingID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	if bookingID == 0 {
		return nil, ledgerdomain.ErrInvalidBooking
	}
	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at, id").
		Find(&entries).Error
	return entries, err
}

func (s *Service) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]ledgerdomain.LedgerPosting, error) {
	if limit <= 0 {
		limit = 100
	}
	var postings []ledgerdomain.LedgerPosting
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT p.* FROM ledger_postings p
		 JOIN ledger_entries e ON e.posting_id = p.id
		 WHERE e.status = 'PENDING' AND e.created_at < ?
		 ORDER BY p.created_at
		 LIMIT ?`,
		cutoff.UTC(),
		limit,
	).Scan(&postings).Error
	return postings, err
}

func (s *Service) MarkPostingSettled(ctx context.Context, tx *gorm.DB, postingID snowflake.ID, at time.Time) error {
	if tx == nil {
		tx = s.db
	}
	settledAt := at.UTC()
	return tx.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("posting_id = ? AND status = ?", postingID, ledgerdomain.EntryPending).
		Updates(map[string]any{"status": ledgerdomain.EntrySettled, "settled_at": settledAt}).Error
}

func (s *Service) SettlePendingByBooking(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, at time.Time, except ...ledgerdomain.TransactionType) error {
	if tx == nil {
		tx = s.db
	}
	if bookingID == 0 {
		return ledgerdomain.ErrInvalidBooking
	}
	q := tx.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("booking_id = ? AND status = ?", bookingID, ledgerdomain.EntryPending)
	if len(except) > 0 {
		q = q.Where("transaction_type NOT IN ?", except)
	}
	return q.Updates(map[string]any{"status": ledgerdomain.EntrySettled, "settled_at": at.UTC()}).Error
}

func (s *Service) MarkPostingFailed(ctx context.Context, tx *gorm.DB, postingID snowflake.ID) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("posting_id = ? AND status = ?", postingID, ledgerdomain.EntryPending).
		Update("status", ledgerdomain.EntryFailed).Error
}

func (s *Service) ReversePosting(ctx context.Context, tx *gorm.DB, postingID snowflake.ID, key string) (snowflake.ID, error) {
	if tx == nil {
		tx = s.db
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, ledgerdomain.ErrInvalidKey
	}

	var original ledgerdomain.LedgerPosting
	if err := tx.WithContext(ctx).First(&original, "id = ?", postingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ledgerdomain.ErrPostingNotFound
		}
		return 0, err
	}

	var legs []ledgerdomain.LedgerEntry
	if err := tx.WithContext(ctx).Where("posting_id = ?", postingID).Find(&legs).Error; err != nil {
		return 0, err
	}
	if len(legs) == 0 {
		return 0, ledgerdomain.ErrPostingNotFound
	}

	now := time.Now().UTC()
	reversal := ledgerdomain.LedgerPosting{
		ID:              s.genID.Generate(),
		BookingID:       original.BookingID,
		TransactionType: original.TransactionType,
		Currency:        original.Currency,
		IdempotencyKey:  key,
		ReversalOf:      &original.ID,
		CreatedAt:       now,
	}

	flipped := make([]ledgerdomain.Leg, 0, len(legs))
	for _, leg := range legs {
		flipped = append(flipped, ledgerdomain.Leg{
			AccountType: leg.AccountType,
			Side:        oppositeSide(leg.Side),
			Amount:      leg.Amount,
		})
	}
	reversal.LegFingerprint = legFingerprint(flipped)

	if err := tx.WithContext(ctx).Create(&reversal).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			existing, ferr := s.findByKey(ctx, tx, key)
			if ferr != nil {
				return 0, ferr
			}
			if existing != nil && existing.LegFingerprint == reversal.LegFingerprint {
				return existing.ID, nil
			}
			return 0, ledgerdomain.ErrIdempotencyConflict
		}
		return 0, err
	}

	for _, leg := range flipped {
		entry := ledgerdomain.LedgerEntry{
			ID:              s.genID.Generate(),
			PostingID:       reversal.ID,
			BookingID:       original.BookingID,
			AccountType:     leg.AccountType,
			Side:            leg.Side,
			Amount:          leg.Amount,
			Currency:        original.Currency,
			TransactionType: original.TransactionType,
			Status:          ledgerdomain.EntryReversed,
			CreatedAt:       now,
			SettledAt:       &now,
		}
		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return 0, err
		}
	}
	if s.metrics != nil {
		s.metrics.Postings.WithLabelValues(string(original.TransactionType)).Inc()
	}
	return reversal.ID, nil
}

func (s *Service) findByKey(ctx context.Context, tx *gorm.DB, key string) (*ledgerdomain.LedgerPosting, error) {
	var posting ledgerdomain.LedgerPosting
	err := tx.WithContext(ctx).First(&posting, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &posting, nil
}

func (s *Service) rejectMetric(err error) {
	if s.metrics != nil {
		s.metrics.PostingRejections.WithLabelValues(err.Error()).Inc()
	}
}

func validateRequest(req *ledgerdomain.PostingRequest) error {
	if req.BookingID == 0 {
		return ledgerdomain.ErrInvalidBooking
	}
	if strings.TrimSpace(string(req.TransactionType)) == "" {
		return ledgerdomain.ErrInvalidTxType
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return ledgerdomain.ErrInvalidKey
	}
	return ledgerdomain.ValidateBalanced(req.Legs)
}

func legFingerprint(legs []ledgerdomain.Leg) string {
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, fmt.Sprintf("%s:%s:%d", leg.AccountType, leg.Side, leg.Amount))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func oppositeSide(side ledgerdomain.Side) ledgerdomain.Side {
	if side == ledgerdomain.SideDebit {
		return ledgerdomain.SideCredit
	}
	return ledgerdomain.SideDebit
}
