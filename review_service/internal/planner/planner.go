// Package planner decides who reviews what. It never does I/O: callers load
// the contest's submissions and users, and persist the returned assignments.
package planner

import (
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
)

// Selector picks an index in [0, n). *math/rand/v2.Rand satisfies it.
type Selector interface {
	IntN(n int) int
}

// ErrNoEligibleReviewer reports that a pick had no candidates.
var ErrNoEligibleReviewer = errors.New("no eligible reviewer")

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Random draws from the math/rand/v2 global source and is safe for
// concurrent use.
var Random Selector = globalRand{}

type Options struct {
	ReviewsPerReviewer int
	Deadline           time.Duration
	Now                time.Time
	Kind               types.AssignmentKind
}

type PanelOptions struct {
	Size     int
	Deadline time.Duration
	Now      time.Time
	// Exclude holds reviewer ids that must not sit on the panel.
	Exclude map[string]bool
}

func EligibleSubmissions(submissions []*types.Submission) []*types.Submission {
	eligible := make([]*types.Submission, 0, len(submissions))
	for _, s := range submissions {
		if s.Reviewable() {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

// EligibleReviewers keeps users that are not banned and own at least one
// reviewable submission, once each, in input order.
func EligibleReviewers(users []*types.User, submissions []*types.Submission) []*types.User {
	owners := make(map[string]bool)
	for _, s := range submissions {
		if s.Reviewable() {
			owners[s.UserID] = true
		}
	}

	seen := make(map[string]bool)
	eligible := make([]*types.User, 0, len(owners))
	for _, u := range users {
		if u.IsBanned || !owners[u.ID] || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		eligible = append(eligible, u)
	}
	return eligible
}

// Plan gives every eligible reviewer up to opts.ReviewsPerReviewer
// submissions they do not own. Each reviewer takes the submissions with the
// fewest assignments so far in this run, ties going to input order.
func Plan(submissions []*types.Submission, users []*types.User, opts Options) []*types.Assignment {
	pool := EligibleSubmissions(submissions)
	reviewers := EligibleReviewers(users, submissions)
	if len(pool) == 0 || len(reviewers) == 0 || opts.ReviewsPerReviewer <= 0 {
		return []*types.Assignment{}
	}

	kind := opts.Kind
	if kind == "" {
		kind = types.KindStandard
	}

	counts := make(map[string]int, len(pool))
	assignments := make([]*types.Assignment, 0, len(reviewers)*opts.ReviewsPerReviewer)

	for _, reviewer := range reviewers {
		candidates := make([]*types.Submission, 0, len(pool))
		for _, s := range pool {
			if s.UserID != reviewer.ID {
				candidates = append(candidates, s)
			}
		}
		slices.SortStableFunc(candidates, func(a, b *types.Submission) int {
			return counts[a.ID] - counts[b.ID]
		})

		n := min(opts.ReviewsPerReviewer, len(candidates))
		for _, s := range candidates[:n] {
			counts[s.ID]++
			assignments = append(assignments, newAssignment(s.ID, reviewer.ID, kind, opts.Now, opts.Deadline))
		}
	}

	return assignments
}

// Candidates are the eligible reviewers for target other than its author and
// anyone in exclude.
func Candidates(target *types.Submission, submissions []*types.Submission, users []*types.User, exclude map[string]bool) []*types.User {
	var out []*types.User
	for _, u := range EligibleReviewers(users, submissions) {
		if u.ID == target.UserID || exclude[u.ID] {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Pick returns one candidate chosen by sel, or nil when there are none.
func Pick(candidates []*types.User, sel Selector) *types.User {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[sel.IntN(len(candidates))]
}

// PlanPanel draws a fixed-size peer-verification panel for target. When
// fewer candidates exist than opts.Size, all of them are seated.
func PlanPanel(target *types.Submission, submissions []*types.Submission, users []*types.User, opts PanelOptions, sel Selector) []*types.Assignment {
	remaining := Candidates(target, submissions, users, opts.Exclude)

	panel := make([]*types.Assignment, 0, min(opts.Size, len(remaining)))
	for len(panel) < opts.Size && len(remaining) > 0 {
		i := sel.IntN(len(remaining))
		reviewer := remaining[i]
		remaining = slices.Delete(remaining, i, i+1)
		panel = append(panel, newAssignment(target.ID, reviewer.ID, types.KindVerification, opts.Now, opts.Deadline))
	}
	return panel
}

func newAssignment(submissionID, reviewerID string, kind types.AssignmentKind, now time.Time, deadline time.Duration) *types.Assignment {
	return &types.Assignment{
		SubmissionID: submissionID,
		ReviewerID:   reviewerID,
		Kind:         kind,
		Status:       types.AssignmentPending,
		AssignedAt:   now,
		Deadline:     now.Add(deadline),
	}
}
