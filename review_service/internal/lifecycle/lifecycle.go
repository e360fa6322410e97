// Package lifecycle holds the deadline-driven batch jobs over review
// assignments. Nothing here schedules itself: the lifecycle binary, its cron
// mode, or the admin HTTP route invoke the jobs.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/DeadlyParkour777/peer-review/pkg/retry"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/notifier"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/planner"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/store"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
)

// BatchResult counts the items a job changed. Per-item failures are kept in
// Errors and do not stop the batch.
type BatchResult struct {
	Count  int     `json:"count"`
	Errors []error `json:"-"`
}

func (r *BatchResult) fail(id string, err error) {
	r.Errors = append(r.Errors, &ItemError{ID: id, Err: err})
}

type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Finalizer decides a verification that has enough completed reviews.
type Finalizer interface {
	FinalizeVerification(ctx context.Context, submissionID string) (*types.VerificationResult, error)
}

type Options struct {
	AssignmentDeadline     time.Duration
	WarningLead            time.Duration
	ReminderLead           time.Duration
	NoticeWindow           time.Duration
	VerificationMaxAge     time.Duration
	MinVerificationReviews int
	BlacklistThreshold     int
	BlacklistWindow        time.Duration
	Retry                  retry.Policy
	Selector               planner.Selector
	Now                    func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AssignmentDeadline:     7 * 24 * time.Hour,
		WarningLead:            24 * time.Hour,
		ReminderLead:           2 * time.Hour,
		NoticeWindow:           time.Hour,
		VerificationMaxAge:     14 * 24 * time.Hour,
		MinVerificationReviews: 8,
		BlacklistThreshold:     2,
		BlacklistWindow:        30 * 24 * time.Hour,
		Retry:                  retry.DefaultPolicy(),
		Selector:               planner.Random,
		Now:                    time.Now,
	}
}

type Service interface {
	CheckExpiredAssignments(ctx context.Context) (BatchResult, error)
	ReassignExpiredAssignments(ctx context.Context) (BatchResult, error)
	SendDeadlineWarnings(ctx context.Context) (BatchResult, error)
	SendFinalReminders(ctx context.Context) (BatchResult, error)
	CheckIncompleteVerifications(ctx context.Context) (BatchResult, error)
	Run(ctx context.Context, job Job) (BatchResult, error)
	RunAll(ctx context.Context) []JobResult
}

type service struct {
	store     store.Store
	notifier  notifier.Notifier
	finalizer Finalizer
	opts      Options
}

func NewService(store store.Store, notifier notifier.Notifier, finalizer Finalizer, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Selector == nil {
		opts.Selector = planner.Random
	}
	return &service{
		store:     store,
		notifier:  notifier,
		finalizer: finalizer,
		opts:      opts,
	}
}

func (s *service) CheckExpiredAssignments(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	overdue, err := s.store.ListOverdueAssignments(ctx, s.opts.Now())
	if err != nil {
		return res, fmt.Errorf("failed to list overdue assignments: %w", err)
	}

	for _, a := range overdue {
		var expired bool
		err := retry.Do(ctx, s.opts.Retry, func() error {
			var err error
			expired, err = s.store.ExpireAssignment(ctx, a.ID)
			return err
		})
		if err != nil {
			res.fail(a.ID, err)
			continue
		}
		// a concurrent run or a late review may have moved the row first
		if expired {
			res.Count++
		}
	}

	log.Printf("Expired %d of %d overdue assignments", res.Count, len(overdue))
	return res, nil
}

type contestPool struct {
	submissions []*types.Submission
	users       []*types.User
}

func (s *service) ReassignExpiredAssignments(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	now := s.opts.Now()

	expired, err := s.store.ListUnreassignedExpired(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list expired assignments: %w", err)
	}
	if len(expired) == 0 {
		return res, nil
	}

	unreliable, err := s.store.ListUnreliableReviewers(ctx, now.Add(-s.opts.BlacklistWindow), s.opts.BlacklistThreshold)
	if err != nil {
		return res, fmt.Errorf("failed to list unreliable reviewers: %w", err)
	}
	blacklist := make(map[string]bool, len(unreliable))
	for _, id := range unreliable {
		blacklist[id] = true
	}

	pools := make(map[string]*contestPool)
	for _, a := range expired {
		sub, err := s.store.GetSubmission(ctx, a.SubmissionID)
		if err != nil {
			res.fail(a.ID, err)
			continue
		}

		pool, ok := pools[sub.ContestID]
		if !ok {
			pool, err = s.loadPool(ctx, sub.ContestID)
			if err != nil {
				res.fail(a.ID, err)
				continue
			}
			pools[sub.ContestID] = pool
		}

		holders, err := s.store.ListSubmissionReviewers(ctx, a.SubmissionID)
		if err != nil {
			res.fail(a.ID, err)
			continue
		}
		exclude := make(map[string]bool, len(blacklist)+len(holders))
		for id := range blacklist {
			exclude[id] = true
		}
		for _, id := range holders {
			exclude[id] = true
		}

		reviewer := planner.Pick(planner.Candidates(sub, pool.submissions, pool.users, exclude), s.opts.Selector)
		if reviewer == nil {
			res.fail(a.ID, planner.ErrNoEligibleReviewer)
			continue
		}

		replacement := &types.Assignment{
			SubmissionID: a.SubmissionID,
			ReviewerID:   reviewer.ID,
			Kind:         a.Kind,
			Status:       types.AssignmentPending,
			AssignedAt:   now,
			Deadline:     now.Add(s.opts.AssignmentDeadline),
		}
		err = retry.Do(ctx, s.opts.Retry, func() error {
			err := s.store.ReassignAssignment(ctx, a.ID, replacement)
			if errors.Is(err, store.ErrAlreadyReassigned) {
				return retry.Permanent(err)
			}
			return err
		})
		if errors.Is(err, store.ErrAlreadyReassigned) {
			log.Printf("Assignment %s was already reassigned, skipping", a.ID)
			continue
		}
		if err != nil {
			res.fail(a.ID, err)
			continue
		}
		res.Count++

		if err := s.send(ctx, reviewer.Email, events.TemplateAssignment, map[string]any{
			"count":    1,
			"deadline": replacement.Deadline,
		}); err != nil {
			res.fail(replacement.ID, err)
		}
	}

	log.Printf("Reassigned %d of %d expired assignments", res.Count, len(expired))
	return res, nil
}

func (s *service) loadPool(ctx context.Context, contestID string) (*contestPool, error) {
	submissions, err := s.store.ListContestSubmissions(ctx, contestID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListContestUsers(ctx, contestID)
	if err != nil {
		return nil, err
	}
	return &contestPool{submissions: submissions, users: users}, nil
}

func (s *service) send(ctx context.Context, address string, kind events.TemplateKind, data map[string]any) error {
	return retry.Do(ctx, s.opts.Retry, func() error {
		return s.notifier.Send(ctx, address, kind, data)
	})
}

// SendDeadlineWarnings notifies reviewers whose pending assignments are due
// in [now+lead-window, now+lead) once per assignment.
func (s *service) SendDeadlineWarnings(ctx context.Context) (BatchResult, error) {
	return s.sendNotices(ctx, types.NoticeWarning, s.opts.WarningLead, events.TemplateDeadlineWarning)
}

func (s *service) SendFinalReminders(ctx context.Context) (BatchResult, error) {
	return s.sendNotices(ctx, types.NoticeReminder, s.opts.ReminderLead, events.TemplateFinalReminder)
}

func (s *service) sendNotices(ctx context.Context, notice types.Notice, lead time.Duration, kind events.TemplateKind) (BatchResult, error) {
	var res BatchResult
	now := s.opts.Now()
	from, to := now.Add(lead-s.opts.NoticeWindow), now.Add(lead)

	due, err := s.store.ListDueAssignments(ctx, notice, from, to)
	if err != nil {
		return res, fmt.Errorf("failed to list assignments due for %s: %w", notice, err)
	}

	var order []string
	byReviewer := make(map[string][]*types.Assignment)
	for _, a := range due {
		if _, ok := byReviewer[a.ReviewerID]; !ok {
			order = append(order, a.ReviewerID)
		}
		byReviewer[a.ReviewerID] = append(byReviewer[a.ReviewerID], a)
	}

	for _, reviewerID := range order {
		assignments := byReviewer[reviewerID]
		reviewer, err := s.store.GetUser(ctx, reviewerID)
		if err != nil {
			res.fail(reviewerID, err)
			continue
		}

		ids := make([]string, 0, len(assignments))
		deadline := assignments[0].Deadline
		for _, a := range assignments {
			ids = append(ids, a.ID)
			if a.Deadline.Before(deadline) {
				deadline = a.Deadline
			}
		}

		err = s.send(ctx, reviewer.Email, kind, map[string]any{
			"count":          len(assignments),
			"deadline":       deadline,
			"assignment_ids": ids,
		})
		if err != nil {
			res.fail(reviewerID, err)
			continue
		}

		err = retry.Do(ctx, s.opts.Retry, func() error {
			return s.store.MarkNoticeSent(ctx, notice, ids, now)
		})
		if err != nil {
			res.fail(reviewerID, err)
			continue
		}
		res.Count++
	}

	log.Printf("Sent %d %s notices for %d assignments", res.Count, notice, len(due))
	return res, nil
}

// CheckIncompleteVerifications resolves verifications that have been open
// longer than the maximum age: short of the minimum reviews the submission
// is eliminated and refunded, otherwise the verification is decided.
func (s *service) CheckIncompleteVerifications(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	now := s.opts.Now()

	stalled, err := s.store.ListStalledVerifications(ctx, now.Add(-s.opts.VerificationMaxAge))
	if err != nil {
		return res, fmt.Errorf("failed to list stalled verifications: %w", err)
	}

	for _, sub := range stalled {
		counts, err := s.store.CountAssignments(ctx, sub.ID, types.KindVerification)
		if err != nil {
			res.fail(sub.ID, err)
			continue
		}

		if counts.Done >= s.opts.MinVerificationReviews {
			if _, err := s.finalizer.FinalizeVerification(ctx, sub.ID); err != nil {
				res.fail(sub.ID, err)
				continue
			}
			res.Count++
			continue
		}

		result := &types.VerificationResult{
			Outcome:          types.OutcomeIncomplete,
			CompletedReviews: counts.Done,
			TotalReviews:     counts.Total(),
			Refund:           true,
			DecidedAt:        now,
		}
		var payment *types.Payment
		err = retry.Do(ctx, s.opts.Retry, func() error {
			var err error
			payment, err = s.store.EliminateIncompleteVerification(ctx, sub.ID, result)
			if errors.Is(err, store.ErrStateChanged) {
				return retry.Permanent(err)
			}
			return err
		})
		if errors.Is(err, store.ErrStateChanged) {
			log.Printf("Verification of submission %s was decided concurrently, skipping", sub.ID)
			continue
		}
		if err != nil {
			res.fail(sub.ID, err)
			continue
		}
		res.Count++
		log.Printf("Verification of submission %s incomplete (%d/%d), refunded", sub.ID, counts.Done, counts.Total())

		owner, err := s.store.GetUser(ctx, sub.UserID)
		if err != nil {
			res.fail(sub.ID, err)
			continue
		}
		data := map[string]any{
			"submission_id":     sub.ID,
			"completed_reviews": counts.Done,
			"total_reviews":     counts.Total(),
		}
		if payment != nil {
			data["payment_id"] = payment.ID
			data["amount"] = payment.Amount
		}
		if err := s.send(ctx, owner.Email, events.TemplateRefund, data); err != nil {
			res.fail(sub.ID, err)
		}
	}

	log.Printf("Resolved %d of %d stalled verifications", res.Count, len(stalled))
	return res, nil
}
