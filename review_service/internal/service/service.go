package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/DeadlyParkour777/peer-review/pkg/events"
	"github.com/DeadlyParkour777/peer-review/pkg/retry"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/cache"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/notifier"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/planner"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/scoring"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/store"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/validation"
)

var (
	ErrInvalidState           = errors.New("submission is not in the required state")
	ErrPaymentNotPaid         = errors.New("verification payment is not paid")
	ErrVerificationIncomplete = errors.New("not enough verification reviews")
)

type Service interface {
	SubmitReview(ctx context.Context, userID, assignmentID string, scores types.Scores, comment string) (*types.Review, error)
	ListMyAssignments(ctx context.Context, userID string) ([]*types.Assignment, error)
	PlanContestAssignments(ctx context.Context, contestID string, reviewsPerReviewer int) ([]*types.Assignment, error)
	CalculatePeerScore(ctx context.Context, submissionID string) (float64, error)
	RequestPeerVerification(ctx context.Context, submissionID, paymentID string) ([]*types.Assignment, error)
	FinalizeVerification(ctx context.Context, submissionID string) (*types.VerificationResult, error)
	IsBanned(ctx context.Context, userID string) (bool, error)
	SetBanned(ctx context.Context, userID string, banned bool) error
}

type Options struct {
	ReviewsPerReviewer     int
	AssignmentDeadline     time.Duration
	PanelSize              int
	MinVerificationReviews int
	PassScore              float64
	Retry                  retry.Policy
	Selector               planner.Selector
	Now                    func() time.Time
}

func DefaultOptions() Options {
	return Options{
		ReviewsPerReviewer:     10,
		AssignmentDeadline:     7 * 24 * time.Hour,
		PanelSize:              10,
		MinVerificationReviews: 8,
		PassScore:              3.0,
		Retry:                  retry.DefaultPolicy(),
		Selector:               planner.Random,
		Now:                    time.Now,
	}
}

type service struct {
	store    store.Store
	cache    cache.UserStatusCache
	notifier notifier.Notifier
	opts     Options
}

func NewService(store store.Store, cache cache.UserStatusCache, notifier notifier.Notifier, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Selector == nil {
		opts.Selector = planner.Random
	}
	return &service{
		store:    store,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
	}
}

func (s *service) SubmitReview(ctx context.Context, userID, assignmentID string, scores types.Scores, comment string) (*types.Review, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetReviewByAssignment(ctx, assignmentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.opts.Now()
	err = validation.ValidateReview(validation.Submission{
		Assignment: a,
		Existing:   existing,
		UserID:     userID,
		Scores:     scores,
		Comment:    comment,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	review, err := s.store.CreateReview(ctx, &types.Review{
		AssignmentID: assignmentID,
		Scores:       scores,
		Comment:      comment,
	}, now)
	switch {
	case errors.Is(err, store.ErrDuplicateReview):
		return nil, &validation.Error{Code: validation.CodeDuplicateReview}
	case errors.Is(err, store.ErrNotPending):
		status := types.AssignmentExpired
		if current, getErr := s.store.GetAssignment(ctx, assignmentID); getErr == nil {
			status = current.Status
		}
		return nil, &validation.Error{Code: validation.CodeInvalidStatus, Status: status}
	case err != nil:
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	log.Printf("Review %s recorded for assignment %s", review.ID, assignmentID)
	s.afterReview(ctx, a)
	return review, nil
}

// afterReview scores or finalizes the submission once its last pending
// assignment of that kind is done. Failures only get logged.
func (s *service) afterReview(ctx context.Context, a *types.Assignment) {
	counts, err := s.store.CountAssignments(ctx, a.SubmissionID, a.Kind)
	if err != nil {
		log.Printf("Failed to count assignments for submission %s: %v", a.SubmissionID, err)
		return
	}
	if counts.Pending > 0 {
		return
	}

	switch a.Kind {
	case types.KindVerification:
		if _, err := s.FinalizeVerification(ctx, a.SubmissionID); err != nil {
			log.Printf("Verification of submission %s not finalized: %v", a.SubmissionID, err)
		}
	default:
		if _, err := s.CalculatePeerScore(ctx, a.SubmissionID); err != nil {
			log.Printf("Failed to score submission %s: %v", a.SubmissionID, err)
		}
	}
}

func (s *service) ListMyAssignments(ctx context.Context, userID string) ([]*types.Assignment, error) {
	return s.store.ListReviewerAssignments(ctx, userID)
}

func (s *service) PlanContestAssignments(ctx context.Context, contestID string, reviewsPerReviewer int) ([]*types.Assignment, error) {
	if reviewsPerReviewer <= 0 {
		reviewsPerReviewer = s.opts.ReviewsPerReviewer
	}

	submissions, err := s.store.ListContestSubmissions(ctx, contestID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListContestUsers(ctx, contestID)
	if err != nil {
		return nil, err
	}

	plan := planner.Plan(submissions, users, planner.Options{
		ReviewsPerReviewer: reviewsPerReviewer,
		Deadline:           s.opts.AssignmentDeadline,
		Now:                s.opts.Now(),
		Kind:               types.KindStandard,
	})
	if len(plan) == 0 {
		log.Printf("Contest %s has nothing to plan", contestID)
		return plan, nil
	}

	if err := s.store.CreateAssignments(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to persist plan for contest %s: %w", contestID, err)
	}
	log.Printf("Planned %d assignments for contest %s", len(plan), contestID)

	s.notifyAssigned(ctx, plan, users)
	return plan, nil
}

// notifyAssigned sends each reviewer one notification covering all of their
// new assignments.
func (s *service) notifyAssigned(ctx context.Context, assignments []*types.Assignment, users []*types.User) {
	emails := make(map[string]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
	}

	type batch struct {
		count    int
		deadline time.Time
	}
	var order []string
	batches := make(map[string]*batch)
	for _, a := range assignments {
		b, ok := batches[a.ReviewerID]
		if !ok {
			b = &batch{deadline: a.Deadline}
			batches[a.ReviewerID] = b
			order = append(order, a.ReviewerID)
		}
		b.count++
		if a.Deadline.Before(b.deadline) {
			b.deadline = a.Deadline
		}
	}

	for _, reviewerID := range order {
		b := batches[reviewerID]
		s.notify(ctx, emails[reviewerID], events.TemplateAssignment, map[string]any{
			"count":    b.count,
			"deadline": b.deadline,
		})
	}
}

func (s *service) notify(ctx context.Context, address string, kind events.TemplateKind, data map[string]any) {
	err := retry.Do(ctx, s.opts.Retry, func() error {
		return s.notifier.Send(ctx, address, kind, data)
	})
	if err != nil {
		log.Printf("Failed to send %s to %s: %v", kind, address, err)
	}
}

// CalculatePeerScore recomputes and stores the consensus score of every
// completed review of the submission. Running it again without new reviews
// stores the same value.
func (s *service) CalculatePeerScore(ctx context.Context, submissionID string) (float64, error) {
	var score float64
	err := retry.Do(ctx, s.opts.Retry, func() error {
		var err error
		score, err = s.store.RecomputePeerScore(ctx, submissionID, scoring.Consensus)
		if errors.Is(err, store.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to calculate peer score for %s: %w", submissionID, err)
	}

	log.Printf("Peer score of submission %s is %.2f", submissionID, score)
	return score, nil
}

func (s *service) RequestPeerVerification(ctx context.Context, submissionID, paymentID string) ([]*types.Assignment, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubmissionEliminated {
		return nil, fmt.Errorf("submission %s is %s: %w", submissionID, sub.Status, ErrInvalidState)
	}

	payment, err := s.store.GetVerificationPayment(ctx, submissionID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != types.PaymentPaid {
		return nil, fmt.Errorf("payment %s is %s: %w", paymentID, payment.Status, ErrPaymentNotPaid)
	}

	submissions, err := s.store.ListContestSubmissions(ctx, sub.ContestID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListContestUsers(ctx, sub.ContestID)
	if err != nil {
		return nil, err
	}

	// Anyone who already reviewed this submission stays off the panel.
	holders, err := s.store.ListSubmissionReviewers(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]bool, len(holders))
	for _, id := range holders {
		exclude[id] = true
	}

	now := s.opts.Now()
	panel := planner.PlanPanel(sub, submissions, users, planner.PanelOptions{
		Size:     s.opts.PanelSize,
		Deadline: s.opts.AssignmentDeadline,
		Now:      now,
		Exclude:  exclude,
	}, s.opts.Selector)
	if len(panel) == 0 {
		return nil, fmt.Errorf("verification panel for %s: %w", submissionID, planner.ErrNoEligibleReviewer)
	}

	if err := s.store.StartVerification(ctx, submissionID, now, panel); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return nil, fmt.Errorf("submission %s: %w", submissionID, ErrInvalidState)
		}
		return nil, fmt.Errorf("failed to start verification of %s: %w", submissionID, err)
	}
	log.Printf("Peer verification of submission %s started with %d panelists", submissionID, len(panel))

	s.notifyAssigned(ctx, panel, users)
	return panel, nil
}

func (s *service) FinalizeVerification(ctx context.Context, submissionID string) (*types.VerificationResult, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubmissionPeerVerificationPending {
		return nil, fmt.Errorf("submission %s is %s: %w", submissionID, sub.Status, ErrInvalidState)
	}

	counts, err := s.store.CountAssignments(ctx, submissionID, types.KindVerification)
	if err != nil {
		return nil, err
	}
	if counts.Done < s.opts.MinVerificationReviews {
		return nil, fmt.Errorf("%d of %d required reviews done: %w",
			counts.Done, s.opts.MinVerificationReviews, ErrVerificationIncomplete)
	}

	reviews, err := s.store.ListSubmissionReviews(ctx, submissionID, types.KindVerification)
	if err != nil {
		return nil, err
	}
	score := scoring.Consensus(reviews)

	result := &types.VerificationResult{
		Outcome:          types.OutcomeConfirmed,
		CompletedReviews: counts.Done,
		TotalReviews:     counts.Total(),
		Score:            &score,
		DecidedAt:        s.opts.Now(),
	}
	status := types.SubmissionEliminated
	if score >= s.opts.PassScore {
		result.Outcome = types.OutcomeReinstated
		status = types.SubmissionReinstated
	}

	err = retry.Do(ctx, s.opts.Retry, func() error {
		err := s.store.CompleteVerification(ctx, submissionID, status, result)
		if errors.Is(err, store.ErrStateChanged) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return nil, fmt.Errorf("submission %s: %w", submissionID, ErrInvalidState)
		}
		return nil, fmt.Errorf("failed to record verification of %s: %w", submissionID, err)
	}
	log.Printf("Peer verification of submission %s: %s (%.2f)", submissionID, result.Outcome, score)

	if owner, err := s.store.GetUser(ctx, sub.UserID); err != nil {
		log.Printf("Failed to load submitter %s: %v", sub.UserID, err)
	} else {
		s.notify(ctx, owner.Email, events.TemplateVerificationResult, map[string]any{
			"submission_id": submissionID,
			"outcome":       result.Outcome,
			"score":         score,
		})
	}
	return result, nil
}

// IsBanned reads through the user-status cache.
func (s *service) IsBanned(ctx context.Context, userID string) (bool, error) {
	banned, err := s.cache.GetBanned(ctx, userID)
	if err == nil {
		return banned, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("Failed to read status of user %s from cache: %v", userID, err)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := s.cache.SetBanned(ctx, userID, user.IsBanned); err != nil {
		log.Printf("Failed to cache status of user %s: %v", userID, err)
	}
	return user.IsBanned, nil
}

func (s *service) SetBanned(ctx context.Context, userID string, banned bool) error {
	if err := s.store.SetUserBanned(ctx, userID, banned); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Printf("Failed to invalidate cache for user %s: %v", userID, err)
	}
	log.Printf("User %s banned=%t", userID, banned)
	return nil
}
