// Package storetest provides an in-memory store.Store for service tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/store"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
	"github.com/google/uuid"
)

type noticeKey struct {
	id     string
	notice types.Notice
}

type Memory struct {
	mu          sync.Mutex
	users       map[string]*types.User
	submissions map[string]*types.Submission
	assignments map[string]*types.Assignment
	reviews     map[string]*types.Review
	payments    map[string]*types.Payment
	notices     map[noticeKey]time.Time
	order       []string

	// FailNext, when set, is returned once by the next mutating call.
	FailNext error
}

var _ store.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*types.User),
		submissions: make(map[string]*types.Submission),
		assignments: make(map[string]*types.Assignment),
		reviews:     make(map[string]*types.Review),
		payments:    make(map[string]*types.Payment),
		notices:     make(map[noticeKey]time.Time),
	}
}

func (m *Memory) fail() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *Memory) AddUser(u *types.User) *types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	cp := *u
	m.users[u.ID] = &cp
	return u
}

func (m *Memory) AddSubmission(s *types.Submission) *types.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	m.submissions[s.ID] = &cp
	return s
}

func (m *Memory) AddPayment(p *types.Payment) *types.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	m.payments[p.ID] = &cp
	return p
}

func (m *Memory) AddAssignment(a *types.Assignment) *types.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertAssignment(a)
	return a
}

func (m *Memory) AddReview(r *types.Review) *types.Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	cp := *r
	m.reviews[r.AssignmentID] = &cp
	return r
}

func (m *Memory) insertAssignment(a *types.Assignment) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	m.assignments[a.ID] = &cp
	m.order = append(m.order, a.ID)
}

// Assignments returns copies of every stored assignment in insertion order.
func (m *Memory) Assignments() []*types.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Assignment, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.assignments[id]
		out = append(out, &cp)
	}
	return out
}

func (m *Memory) Payment(id string) *types.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// NoticeSent reports when the given notice was stamped on an assignment.
func (m *Memory) NoticeSent(id string, notice types.Notice) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.notices[noticeKey{id, notice}]
	return at, ok
}

func (m *Memory) GetSubmission(ctx context.Context, id string) (*types.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, store.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListContestSubmissions(ctx context.Context, contestID string) ([]*types.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Submission
	for _, s := range m.submissions {
		if s.ContestID == contestID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListContestUsers(ctx context.Context, contestID string) ([]*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []*types.User
	for _, s := range m.submissions {
		if s.ContestID != contestID || seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		if u, ok := m.users[s.UserID]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) SetUserBanned(ctx context.Context, id string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	u.IsBanned = banned
	return nil
}

func (m *Memory) CreateAssignments(ctx context.Context, assignments []*types.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, a := range assignments {
		m.insertAssignment(a)
	}
	return nil
}

func (m *Memory) GetAssignment(ctx context.Context, id string) (*types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) filter(keep func(a *types.Assignment) bool) []*types.Assignment {
	var out []*types.Assignment
	for _, id := range m.order {
		if a := m.assignments[id]; keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

func (m *Memory) ListReviewerAssignments(ctx context.Context, reviewerID string) ([]*types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(a *types.Assignment) bool { return a.ReviewerID == reviewerID }), nil
}

func (m *Memory) ListSubmissionReviewers(ctx context.Context, submissionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		a := m.assignments[id]
		if a.SubmissionID == submissionID && !slices.Contains(ids, a.ReviewerID) {
			ids = append(ids, a.ReviewerID)
		}
	}
	return ids, nil
}

func (m *Memory) CountAssignments(ctx context.Context, submissionID string, kind types.AssignmentKind) (types.AssignmentCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c types.AssignmentCounts
	for _, a := range m.assignments {
		if a.SubmissionID != submissionID || a.Kind != kind || !m.inCurrentRound(a) {
			continue
		}
		switch a.Status {
		case types.AssignmentPending:
			c.Pending++
		case types.AssignmentDone:
			c.Done++
		case types.AssignmentExpired:
			if a.ReassignedAt == nil {
				c.Expired++
			}
		}
	}
	return c, nil
}

func (m *Memory) ListOverdueAssignments(ctx context.Context, now time.Time) ([]*types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(a *types.Assignment) bool {
		return a.Status == types.AssignmentPending && a.Deadline.Before(now)
	}), nil
}

func (m *Memory) ExpireAssignment(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	a, ok := m.assignments[id]
	if !ok || a.Status != types.AssignmentPending {
		return false, nil
	}
	a.Status = types.AssignmentExpired
	return true, nil
}

func (m *Memory) ListUnreassignedExpired(ctx context.Context) ([]*types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(a *types.Assignment) bool {
		return a.Status == types.AssignmentExpired && a.ReassignedAt == nil
	}), nil
}

func (m *Memory) ListUnreliableReviewers(ctx context.Context, since time.Time, threshold int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range m.assignments {
		if a.Status == types.AssignmentExpired && !a.Deadline.Before(since) {
			counts[a.ReviewerID]++
		}
	}
	var ids []string
	for id, n := range counts {
		if n >= threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) ReassignAssignment(ctx context.Context, expiredID string, replacement *types.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	old, ok := m.assignments[expiredID]
	if !ok || old.Status != types.AssignmentExpired || old.ReassignedAt != nil {
		return store.ErrAlreadyReassigned
	}
	at := replacement.AssignedAt
	old.ReassignedAt = &at
	replacement.ReassignedFrom = expiredID
	m.insertAssignment(replacement)
	return nil
}

func (m *Memory) ListDueAssignments(ctx context.Context, notice types.Notice, from, to time.Time) ([]*types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(a *types.Assignment) bool {
		_, sent := m.notices[noticeKey{a.ID, notice}]
		return a.Status == types.AssignmentPending && !sent &&
			!a.Deadline.Before(from) && a.Deadline.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out, nil
}

func (m *Memory) MarkNoticeSent(ctx context.Context, notice types.Notice, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, id := range ids {
		m.notices[noticeKey{id, notice}] = at
	}
	return nil
}

func (m *Memory) GetReviewByAssignment(ctx context.Context, assignmentID string) (*types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[assignmentID]
	if !ok {
		return nil, fmt.Errorf("review for assignment %s: %w", assignmentID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) CreateReview(ctx context.Context, review *types.Review, completedAt time.Time) (*types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	if _, ok := m.reviews[review.AssignmentID]; ok {
		return nil, store.ErrDuplicateReview
	}
	a, ok := m.assignments[review.AssignmentID]
	if !ok || a.Status != types.AssignmentPending {
		return nil, store.ErrNotPending
	}

	review.ID = uuid.New().String()
	review.CreatedAt = completedAt
	cp := *review
	m.reviews[review.AssignmentID] = &cp

	done := completedAt
	a.Status = types.AssignmentDone
	a.CompletedAt = &done
	return review, nil
}

// inCurrentRound reports whether a belongs to its submission's latest
// verification request. Standard assignments always do.
func (m *Memory) inCurrentRound(a *types.Assignment) bool {
	if a.Kind != types.KindVerification {
		return true
	}
	s, ok := m.submissions[a.SubmissionID]
	if !ok || s.VerificationRequested == nil {
		return false
	}
	return !a.AssignedAt.Before(*s.VerificationRequested)
}

func (m *Memory) doneReviews(submissionID string, kind types.AssignmentKind) []*types.Review {
	var out []*types.Review
	for _, id := range m.order {
		a := m.assignments[id]
		if a.SubmissionID != submissionID || a.Status != types.AssignmentDone {
			continue
		}
		if a.Kind != kind || !m.inCurrentRound(a) {
			continue
		}
		if r, ok := m.reviews[a.ID]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Memory) ListSubmissionReviews(ctx context.Context, submissionID string, kind types.AssignmentKind) ([]*types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneReviews(submissionID, kind), nil
}

func (m *Memory) RecomputePeerScore(ctx context.Context, submissionID string, compute func([]*types.Review) float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	s, ok := m.submissions[submissionID]
	if !ok {
		return 0, fmt.Errorf("submission %s: %w", submissionID, store.ErrNotFound)
	}
	score := compute(m.doneReviews(submissionID, types.KindStandard))
	s.ScorePeer = &score
	return score, nil
}

func (m *Memory) GetVerificationPayment(ctx context.Context, submissionID, paymentID string) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.SubmissionID != submissionID || p.Kind != types.PaymentKindPeerVerification {
		return nil, fmt.Errorf("payment %s: %w", paymentID, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) StartVerification(ctx context.Context, submissionID string, requestedAt time.Time, panel []*types.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	s, ok := m.submissions[submissionID]
	if !ok || s.Status != types.SubmissionEliminated {
		return store.ErrStateChanged
	}
	s.Status = types.SubmissionPeerVerificationPending
	s.VerificationRequested = &requestedAt
	s.VerificationResult = nil
	for _, a := range panel {
		m.insertAssignment(a)
	}
	return nil
}

func (m *Memory) ListStalledVerifications(ctx context.Context, requestedBefore time.Time) ([]*types.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Submission
	for _, s := range m.submissions {
		if s.Status == types.SubmissionPeerVerificationPending && s.VerificationRequested != nil &&
			s.VerificationRequested.Before(requestedBefore) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerificationRequested.Before(*out[j].VerificationRequested) })
	return out, nil
}

func (m *Memory) setOutcome(submissionID string, status types.SubmissionStatus, result *types.VerificationResult) error {
	s, ok := m.submissions[submissionID]
	if !ok || s.Status != types.SubmissionPeerVerificationPending {
		return store.ErrStateChanged
	}
	cp := *result
	s.Status = status
	s.VerificationResult = &cp

	for _, a := range m.assignments {
		if a.SubmissionID != submissionID || a.Kind != types.KindVerification {
			continue
		}
		switch {
		case a.Status == types.AssignmentPending:
			a.Status = types.AssignmentClosed
		case a.Status == types.AssignmentExpired && a.ReassignedAt == nil:
			at := result.DecidedAt
			a.ReassignedAt = &at
		}
	}
	return nil
}

func (m *Memory) EliminateIncompleteVerification(ctx context.Context, submissionID string, result *types.VerificationResult) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	if err := m.setOutcome(submissionID, types.SubmissionEliminated, result); err != nil {
		return nil, err
	}
	for _, p := range m.payments {
		if p.SubmissionID == submissionID && p.Kind == types.PaymentKindPeerVerification && p.Status == types.PaymentPaid {
			at := result.DecidedAt
			p.Status = types.PaymentRefunded
			p.RefundedAt = &at
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CompleteVerification(ctx context.Context, submissionID string, status types.SubmissionStatus, result *types.VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	return m.setOutcome(submissionID, status, result)
}
