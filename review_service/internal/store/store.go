package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateReview   = errors.New("review already exists for assignment")
	ErrNotPending        = errors.New("assignment is not pending")
	ErrAlreadyReassigned = errors.New("assignment already reassigned")
	ErrStateChanged      = errors.New("submission state changed concurrently")
)

const uniqueViolation = "23505"

type Store interface {
	GetSubmission(ctx context.Context, id string) (*types.Submission, error)
	ListContestSubmissions(ctx context.Context, contestID string) ([]*types.Submission, error)
	ListContestUsers(ctx context.Context, contestID string) ([]*types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	SetUserBanned(ctx context.Context, id string, banned bool) error

	CreateAssignments(ctx context.Context, assignments []*types.Assignment) error
	GetAssignment(ctx context.Context, id string) (*types.Assignment, error)
	ListReviewerAssignments(ctx context.Context, reviewerID string) ([]*types.Assignment, error)
	ListSubmissionReviewers(ctx context.Context, submissionID string) ([]string, error)
	CountAssignments(ctx context.Context, submissionID string, kind types.AssignmentKind) (types.AssignmentCounts, error)

	ListOverdueAssignments(ctx context.Context, now time.Time) ([]*types.Assignment, error)
	ExpireAssignment(ctx context.Context, id string) (bool, error)
	ListUnreassignedExpired(ctx context.Context) ([]*types.Assignment, error)
	ListUnreliableReviewers(ctx context.Context, since time.Time, threshold int) ([]string, error)
	ReassignAssignment(ctx context.Context, expiredID string, replacement *types.Assignment) error
	ListDueAssignments(ctx context.Context, notice types.Notice, from, to time.Time) ([]*types.Assignment, error)
	MarkNoticeSent(ctx context.Context, notice types.Notice, ids []string, at time.Time) error

	GetReviewByAssignment(ctx context.Context, assignmentID string) (*types.Review, error)
	CreateReview(ctx context.Context, review *types.Review, completedAt time.Time) (*types.Review, error)
	ListSubmissionReviews(ctx context.Context, submissionID string, kind types.AssignmentKind) ([]*types.Review, error)
	RecomputePeerScore(ctx context.Context, submissionID string, compute func([]*types.Review) float64) (float64, error)

	GetVerificationPayment(ctx context.Context, submissionID, paymentID string) (*types.Payment, error)
	StartVerification(ctx context.Context, submissionID string, requestedAt time.Time, panel []*types.Assignment) error
	ListStalledVerifications(ctx context.Context, requestedBefore time.Time) ([]*types.Submission, error)
	EliminateIncompleteVerification(ctx context.Context, submissionID string, result *types.VerificationResult) (*types.Payment, error)
	CompleteVerification(ctx context.Context, submissionID string, status types.SubmissionStatus, result *types.VerificationResult) error
}

type store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &store{db: db}
}

const submissionColumns = `id, contest_id, user_id, status, score_peer, peer_verification_result,
	peer_verification_requested_at, created_at, updated_at`

const assignmentColumns = `id, submission_id, reviewer_id, kind, status, assigned_at, deadline,
	completed_at, reassigned_from, reassigned_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*types.Submission, error) {
	var (
		sub         types.Submission
		score       sql.NullFloat64
		result      []byte
		requestedAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.ContestID, &sub.UserID, &sub.Status, &score, &result,
		&requestedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		sub.ScorePeer = &score.Float64
	}
	if requestedAt.Valid {
		sub.VerificationRequested = &requestedAt.Time
	}
	if len(result) > 0 {
		sub.VerificationResult = &types.VerificationResult{}
		if err := json.Unmarshal(result, sub.VerificationResult); err != nil {
			return nil, fmt.Errorf("failed to decode verification result: %w", err)
		}
	}
	return &sub, nil
}

func scanAssignment(row scanner) (*types.Assignment, error) {
	var (
		a              types.Assignment
		completedAt    sql.NullTime
		reassignedFrom sql.NullString
		reassignedAt   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.SubmissionID, &a.ReviewerID, &a.Kind, &a.Status, &a.AssignedAt,
		&a.Deadline, &completedAt, &reassignedFrom, &reassignedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if reassignedFrom.Valid {
		a.ReassignedFrom = reassignedFrom.String
	}
	if reassignedAt.Valid {
		a.ReassignedAt = &reassignedAt.Time
	}
	return &a, nil
}

func scanReview(row scanner) (*types.Review, error) {
	r := &types.Review{}
	err := row.Scan(&r.ID, &r.AssignmentID, &r.Scores.Clarity, &r.Scores.Argument,
		&r.Scores.Style, &r.Scores.MoralDepth, &r.Comment, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanPayment(row scanner) (*types.Payment, error) {
	var (
		p          types.Payment
		refundedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.SubmissionID, &p.Kind, &p.Status, &p.Amount, &refundedAt); err != nil {
		return nil, err
	}
	if refundedAt.Valid {
		p.RefundedAt = &refundedAt.Time
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *store) GetSubmission(ctx context.Context, id string) (*types.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

func (s *store) querySubmissions(ctx context.Context, query string, args ...any) ([]*types.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*types.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over submission rows: %w", err)
	}
	return submissions, nil
}

func (s *store) ListContestSubmissions(ctx context.Context, contestID string) ([]*types.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE contest_id = $1 ORDER BY created_at, id`
	return s.querySubmissions(ctx, query, contestID)
}

func (s *store) ListContestUsers(ctx context.Context, contestID string) ([]*types.User, error) {
	query := `SELECT DISTINCT u.id, u.email, u.name, u.is_banned
	          FROM users u JOIN submissions s ON s.user_id = u.id
	          WHERE s.contest_id = $1 ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contest users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		u := &types.User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsBanned); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over user rows: %w", err)
	}
	return users, nil
}

func (s *store) GetUser(ctx context.Context, id string) (*types.User, error) {
	u := &types.User{}
	query := `SELECT id, email, name, is_banned FROM users WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.IsBanned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *store) SetUserBanned(ctx context.Context, id string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = $1 WHERE id = $2`, banned, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func insertAssignment(ctx context.Context, tx *sql.Tx, a *types.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	var reassignedFrom sql.NullString
	if a.ReassignedFrom != "" {
		reassignedFrom = sql.NullString{String: a.ReassignedFrom, Valid: true}
	}

	query := `INSERT INTO peer_review_assignments
	          (id, submission_id, reviewer_id, kind, status, assigned_at, deadline, reassigned_from)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, query, a.ID, a.SubmissionID, a.ReviewerID, a.Kind, a.Status,
		a.AssignedAt, a.Deadline, reassignedFrom)
	return err
}

func (s *store) CreateAssignments(ctx context.Context, assignments []*types.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assignments {
			if err := insertAssignment(ctx, tx, a); err != nil {
				return fmt.Errorf("failed to create assignment: %w", err)
			}
		}
		return nil
	})
}

func (s *store) GetAssignment(ctx context.Context, id string) (*types.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM peer_review_assignments WHERE id = $1`
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

func (s *store) queryAssignments(ctx context.Context, query string, args ...any) ([]*types.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*types.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over assignment rows: %w", err)
	}
	return assignments, nil
}

func (s *store) ListReviewerAssignments(ctx context.Context, reviewerID string) ([]*types.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM peer_review_assignments
	          WHERE reviewer_id = $1 ORDER BY deadline`
	return s.queryAssignments(ctx, query, reviewerID)
}

func (s *store) ListSubmissionReviewers(ctx context.Context, submissionID string) ([]string, error) {
	query := `SELECT DISTINCT reviewer_id FROM peer_review_assignments WHERE submission_id = $1`
	return s.queryIDs(ctx, query, submissionID)
}

func (s *store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over id rows: %w", err)
	}
	return ids, nil
}

// currentRound limits verification rows to the latest request; rows assigned
// before it belong to an earlier, already decided round.
const currentRound = `(a.kind <> 'VERIFICATION' OR a.assigned_at >= s.peer_verification_requested_at)`

func (s *store) CountAssignments(ctx context.Context, submissionID string, kind types.AssignmentKind) (types.AssignmentCounts, error) {
	var c types.AssignmentCounts
	query := `SELECT
	              COUNT(*) FILTER (WHERE a.status = 'PENDING'),
	              COUNT(*) FILTER (WHERE a.status = 'DONE'),
	              COUNT(*) FILTER (WHERE a.status = 'EXPIRED' AND a.reassigned_at IS NULL)
	          FROM peer_review_assignments a JOIN submissions s ON s.id = a.submission_id
	          WHERE a.submission_id = $1 AND a.kind = $2 AND ` + currentRound
	err := s.db.QueryRowContext(ctx, query, submissionID, kind).Scan(&c.Pending, &c.Done, &c.Expired)
	if err != nil {
		return c, fmt.Errorf("failed to count assignments: %w", err)
	}
	return c, nil
}

func (s *store) ListOverdueAssignments(ctx context.Context, now time.Time) ([]*types.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM peer_review_assignments
	          WHERE status = 'PENDING' AND deadline < $1 ORDER BY deadline`
	return s.queryAssignments(ctx, query, now)
}

func (s *store) ExpireAssignment(ctx context.Context, id string) (bool, error) {
	query := `UPDATE peer_review_assignments SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to expire assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *store) ListUnreassignedExpired(ctx context.Context) ([]*types.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM peer_review_assignments
	          WHERE status = 'EXPIRED' AND reassigned_at IS NULL ORDER BY deadline`
	return s.queryAssignments(ctx, query)
}

func (s *store) ListUnreliableReviewers(ctx context.Context, since time.Time, threshold int) ([]string, error) {
	query := `SELECT reviewer_id FROM peer_review_assignments
	          WHERE status = 'EXPIRED' AND deadline >= $1
	          GROUP BY reviewer_id HAVING COUNT(*) >= $2`
	return s.queryIDs(ctx, query, since, threshold)
}

func (s *store) ReassignAssignment(ctx context.Context, expiredID string, replacement *types.Assignment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		claim := `UPDATE peer_review_assignments SET reassigned_at = $2
		          WHERE id = $1 AND status = 'EXPIRED' AND reassigned_at IS NULL`
		res, err := tx.ExecContext(ctx, claim, expiredID, replacement.AssignedAt)
		if err != nil {
			return fmt.Errorf("failed to claim expired assignment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyReassigned
		}

		replacement.ReassignedFrom = expiredID
		if err := insertAssignment(ctx, tx, replacement); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyReassigned
			}
			return fmt.Errorf("failed to insert replacement assignment: %w", err)
		}
		return nil
	})
}

func noticeColumn(notice types.Notice) (string, error) {
	switch notice {
	case types.NoticeWarning:
		return "warning_sent_at", nil
	case types.NoticeReminder:
		return "reminder_sent_at", nil
	}
	return "", fmt.Errorf("unknown notice %q", notice)
}

func (s *store) ListDueAssignments(ctx context.Context, notice types.Notice, from, to time.Time) ([]*types.Assignment, error) {
	column, err := noticeColumn(notice)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + assignmentColumns + ` FROM peer_review_assignments
	          WHERE status = 'PENDING' AND deadline >= $1 AND deadline < $2 AND ` + column + ` IS NULL
	          ORDER BY reviewer_id, deadline`
	return s.queryAssignments(ctx, query, from, to)
}

func (s *store) MarkNoticeSent(ctx context.Context, notice types.Notice, ids []string, at time.Time) error {
	column, err := noticeColumn(notice)
	if err != nil {
		return err
	}
	query := `UPDATE peer_review_assignments SET ` + column + ` = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark %s sent: %w", notice, err)
	}
	return nil
}

const reviewColumns = `r.id, r.assignment_id, r.clarity, r.argument, r.style, r.moral_depth, r.comment, r.created_at`

func (s *store) GetReviewByAssignment(ctx context.Context, assignmentID string) (*types.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM peer_review_reviews r WHERE r.assignment_id = $1`
	r, err := scanReview(s.db.QueryRowContext(ctx, query, assignmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("review for assignment %s: %w", assignmentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return r, nil
}

func (s *store) CreateReview(ctx context.Context, review *types.Review, completedAt time.Time) (*types.Review, error) {
	review.ID = uuid.New().String()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		insert := `INSERT INTO peer_review_reviews
		           (id, assignment_id, clarity, argument, style, moral_depth, comment, created_at)
		           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		           RETURNING created_at`
		err := tx.QueryRowContext(ctx, insert, review.ID, review.AssignmentID, review.Scores.Clarity,
			review.Scores.Argument, review.Scores.Style, review.Scores.MoralDepth, review.Comment,
			completedAt).Scan(&review.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateReview
			}
			return fmt.Errorf("failed to insert review: %w", err)
		}

		complete := `UPDATE peer_review_assignments SET status = 'DONE', completed_at = $2
		             WHERE id = $1 AND status = 'PENDING'`
		res, err := tx.ExecContext(ctx, complete, review.AssignmentID, completedAt)
		if err != nil {
			return fmt.Errorf("failed to complete assignment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

func queryReviews(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string, args ...any) ([]*types.Review, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*types.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over review rows: %w", err)
	}
	return reviews, nil
}

func (s *store) ListSubmissionReviews(ctx context.Context, submissionID string, kind types.AssignmentKind) ([]*types.Review, error) {
	query := `SELECT ` + reviewColumns + `
	          FROM peer_review_reviews r JOIN peer_review_assignments a ON a.id = r.assignment_id
	          JOIN submissions s ON s.id = a.submission_id
	          WHERE a.submission_id = $1 AND a.kind = $2 AND a.status = 'DONE' AND ` + currentRound + `
	          ORDER BY r.created_at`
	return queryReviews(ctx, s.db, query, submissionID, kind)
}

// RecomputePeerScore serializes scoring per submission with an advisory lock
// held for the whole read-compute-write transaction. Only standard reviews
// count toward score_peer.
func (s *store) RecomputePeerScore(ctx context.Context, submissionID string, compute func([]*types.Review) float64) (float64, error) {
	var score float64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, submissionID); err != nil {
			return fmt.Errorf("failed to lock submission: %w", err)
		}

		query := `SELECT ` + reviewColumns + `
		          FROM peer_review_reviews r JOIN peer_review_assignments a ON a.id = r.assignment_id
		          WHERE a.submission_id = $1 AND a.kind = $2 AND a.status = 'DONE'
		          ORDER BY r.created_at`
		reviews, err := queryReviews(ctx, tx, query, submissionID, types.KindStandard)
		if err != nil {
			return err
		}

		score = compute(reviews)

		update := `UPDATE submissions SET score_peer = $1, updated_at = NOW() WHERE id = $2`
		res, err := tx.ExecContext(ctx, update, score, submissionID)
		if err != nil {
			return fmt.Errorf("failed to store peer score: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

const paymentColumns = `id, user_id, submission_id, kind, status, amount, refunded_at`

func (s *store) GetVerificationPayment(ctx context.Context, submissionID, paymentID string) (*types.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE id = $1 AND submission_id = $2 AND kind = $3`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, paymentID, submissionID, types.PaymentKindPeerVerification))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *store) StartVerification(ctx context.Context, submissionID string, requestedAt time.Time, panel []*types.Assignment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		update := `UPDATE submissions
		           SET status = 'PEER_VERIFICATION_PENDING', peer_verification_requested_at = $2,
		               peer_verification_result = NULL, updated_at = NOW()
		           WHERE id = $1 AND status = 'ELIMINATED'`
		res, err := tx.ExecContext(ctx, update, submissionID, requestedAt)
		if err != nil {
			return fmt.Errorf("failed to start verification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStateChanged
		}

		for _, a := range panel {
			if err := insertAssignment(ctx, tx, a); err != nil {
				return fmt.Errorf("failed to create panel assignment: %w", err)
			}
		}
		return nil
	})
}

func (s *store) ListStalledVerifications(ctx context.Context, requestedBefore time.Time) ([]*types.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE status = 'PEER_VERIFICATION_PENDING' AND peer_verification_requested_at < $1
	          ORDER BY peer_verification_requested_at`
	return s.querySubmissions(ctx, query, requestedBefore)
}

func updateVerificationOutcome(ctx context.Context, tx *sql.Tx, submissionID string, status types.SubmissionStatus, result *types.VerificationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode verification result: %w", err)
	}

	update := `UPDATE submissions SET status = $2, peer_verification_result = $3, updated_at = NOW()
	           WHERE id = $1 AND status = 'PEER_VERIFICATION_PENDING'`
	res, err := tx.ExecContext(ctx, update, submissionID, status, payload)
	if err != nil {
		return fmt.Errorf("failed to record verification outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateChanged
	}

	closeRound := `UPDATE peer_review_assignments
	               SET status = CASE WHEN status = 'PENDING' THEN 'CLOSED' ELSE status END,
	                   reassigned_at = CASE WHEN status = 'EXPIRED' THEN $2::timestamptz ELSE reassigned_at END
	               WHERE submission_id = $1 AND kind = 'VERIFICATION'
	                 AND (status = 'PENDING' OR (status = 'EXPIRED' AND reassigned_at IS NULL))`
	if _, err := tx.ExecContext(ctx, closeRound, submissionID, result.DecidedAt); err != nil {
		return fmt.Errorf("failed to close verification assignments: %w", err)
	}
	return nil
}

// EliminateIncompleteVerification eliminates the submission and marks its paid
// verification payment refunded in one transaction. The returned payment is
// nil when there was nothing left to refund.
func (s *store) EliminateIncompleteVerification(ctx context.Context, submissionID string, result *types.VerificationResult) (*types.Payment, error) {
	var payment *types.Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateVerificationOutcome(ctx, tx, submissionID, types.SubmissionEliminated, result); err != nil {
			return err
		}

		refund := `UPDATE payments SET status = 'REFUNDED', refunded_at = $3
		           WHERE submission_id = $1 AND kind = $2 AND status = 'PAID'
		           RETURNING ` + paymentColumns
		p, err := scanPayment(tx.QueryRowContext(ctx, refund, submissionID, types.PaymentKindPeerVerification, result.DecidedAt))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to refund payment: %w", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *store) CompleteVerification(ctx context.Context, submissionID string, status types.SubmissionStatus, result *types.VerificationResult) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateVerificationOutcome(ctx, tx, submissionID, status, result)
	})
}
