package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	pkgdb "github.com/smallbiznis/coursemart/pkg/db"
	"gorm.io/gorm"
)

const purchaseColumns = `id, learner_id, course_id, amount, currency, status, provider,
	correlation_token, checkout_url, failure_reason, created_at, updated_at,
	completed_at, failed_at, expired_at, last_swept_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO purchases (
			id, learner_id, course_id, amount, currency, status, provider,
			correlation_token, checkout_url, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		purchase.ID,
		purchase.LearnerID,
		purchase.CourseID,
		purchase.Amount,
		purchase.Currency,
		string(purchase.Status),
		purchase.Provider,
		purchase.CorrelationToken,
		purchase.CheckoutURL,
		purchase.FailureReason,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByCorrelationToken(ctx context.Context, db *gorm.DB, provider, token string) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `provider = ? AND correlation_token = ?`, provider, token)
}

// FindOpenByPair returns the pending or completed purchase for the pair,
// preferring a completed one.
func (r *repo) FindOpenByPair(ctx context.Context, db *gorm.DB, learnerID string, courseID snowflake.ID) (*domain.Purchase, error) {
	var items []*domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE learner_id = ? AND course_id = ? AND status IN (?, ?)
		 ORDER BY created_at ASC`,
		learnerID,
		courseID,
		string(domain.StatusPending),
		string(domain.StatusCompleted),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	var open *domain.Purchase
	for _, item := range items {
		if item.Status == domain.StatusCompleted {
			return item, nil
		}
		if open == nil {
			open = item
		}
	}
	return open, nil
}

// Transition is the only status write. It succeeds only from pending, so
// concurrent writers race on this statement and exactly one wins.
func (r *repo) Transition(ctx context.Context, db *gorm.DB, req domain.TransitionRequest) (bool, error) {
	var (
		set  string
		args []any
	)
	switch req.To {
	case domain.StatusCompleted:
		set = `status = ?, completed_at = ?, updated_at = ?`
		args = []any{string(req.To), req.At, req.At}
	case domain.StatusFailed:
		set = `status = ?, failed_at = ?, failure_reason = ?, updated_at = ?`
		args = []any{string(req.To), req.At, req.FailureReason, req.At}
	case domain.StatusExpired:
		set = `status = ?, expired_at = ?, updated_at = ?`
		args = []any{string(req.To), req.At, req.At}
	default:
		return false, domain.ErrInvalidTransition
	}
	args = append(args, req.ID, string(domain.StatusPending))

	res := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE purchases SET %s WHERE id = ? AND status = ?`, set),
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, filter domain.StaleFilter) ([]*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + `
		 FROM purchases
		 WHERE status = ? AND updated_at < ?
		 ORDER BY COALESCE(last_swept_at, updated_at) ASC, id ASC
		 LIMIT ?`
	if pkgdb.SupportsSkipLocked(db) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var items []*domain.Purchase
	err := db.WithContext(ctx).Raw(query,
		string(domain.StatusPending),
		filter.UpdatedBefore,
		filter.Limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkSwept records that the sweeper looked at the rows so the next scan
// starts with purchases it has not visited. updated_at is left alone.
func (r *repo) MarkSwept(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET last_swept_at = ?
		 WHERE id IN ? AND status = ?`,
		at,
		ids,
		string(domain.StatusPending),
	).Error
}

func (r *repo) ListByLearner(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Purchase, error) {
	var items []*domain.Purchase
	stmt := db.WithContext(ctx).Model(&domain.Purchase{}).
		Where("learner_id = ?", filter.LearnerID)

	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListCompletedWithoutRoster finds completed purchases missing either side of
// the enrollment relation.
func (r *repo) ListCompletedWithoutRoster(ctx context.Context, db *gorm.DB, limit int) ([]*domain.Purchase, error) {
	var items []*domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT `+prefixed("p", purchaseColumns)+`
		 FROM purchases p
		 WHERE p.status = ?
		   AND (
		     NOT EXISTS (
		       SELECT 1 FROM learner_enrollments le
		       WHERE le.learner_id = p.learner_id AND le.course_id = p.course_id
		     )
		     OR NOT EXISTS (
		       SELECT 1 FROM course_rosters cr
		       WHERE cr.course_id = p.course_id AND cr.learner_id = p.learner_id
		     )
		   )
		 ORDER BY p.completed_at ASC, p.id ASC
		 LIMIT ?`,
		string(domain.StatusCompleted),
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Purchase, error) {
	var item domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
