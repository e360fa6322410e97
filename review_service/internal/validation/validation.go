// Package validation holds the pure checks an assignment and a review must
// pass before the review may be recorded.
package validation

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
)

type Code string

const (
	CodeNotOwner        Code = "NOT_OWNER"
	CodeInvalidStatus   Code = "INVALID_STATUS"
	CodeExpired         Code = "EXPIRED"
	CodeDuplicateReview Code = "DUPLICATE_REVIEW"
	CodeInvalidScore    Code = "INVALID_SCORE"
	CodeInvalidComment  Code = "INVALID_COMMENT"
)

const (
	MinScore         = 1
	MaxScore         = 5
	MaxCommentLength = 100
)

// Error is a failed check. Status is set for CodeInvalidStatus, Field for
// CodeInvalidScore and CodeInvalidComment.
type Error struct {
	Code   Code
	Status types.AssignmentStatus
	Field  string
}

func (e *Error) Error() string {
	return e.Message()
}

// Message is the user-facing text for the failure.
func (e *Error) Message() string {
	switch e.Code {
	case CodeNotOwner:
		return "Assignment belongs to another reviewer"
	case CodeInvalidStatus:
		return fmt.Sprintf("Assignment is %s, not open for review", e.Status)
	case CodeExpired:
		return "Assignment has expired"
	case CodeDuplicateReview:
		return "A review was already submitted for this assignment"
	case CodeInvalidScore:
		return fmt.Sprintf("Score %q must be an integer between %d and %d", e.Field, MinScore, MaxScore)
	case CodeInvalidComment:
		return fmt.Sprintf("Comment must be at most %d characters", MaxCommentLength)
	}
	return string(e.Code)
}

func CheckOwnership(a *types.Assignment, userID string) error {
	if a.ReviewerID != userID {
		return &Error{Code: CodeNotOwner}
	}
	return nil
}

func CheckStatus(a *types.Assignment) error {
	if a.Status != types.AssignmentPending {
		return &Error{Code: CodeInvalidStatus, Status: a.Status}
	}
	return nil
}

// CheckExpiration passes up to and including the deadline instant.
func CheckExpiration(a *types.Assignment, now time.Time) error {
	if now.After(a.Deadline) {
		return &Error{Code: CodeExpired}
	}
	return nil
}

// CheckNoDuplicate fails when a review already exists for the assignment.
func CheckNoDuplicate(existing *types.Review) error {
	if existing != nil {
		return &Error{Code: CodeDuplicateReview}
	}
	return nil
}

func CheckScores(s types.Scores) error {
	fields := []struct {
		name  string
		value int
	}{
		{"clarity", s.Clarity},
		{"argument", s.Argument},
		{"style", s.Style},
		{"moral_depth", s.MoralDepth},
	}
	for _, f := range fields {
		if f.value < MinScore || f.value > MaxScore {
			return &Error{Code: CodeInvalidScore, Field: f.name}
		}
	}
	return nil
}

func CheckComment(comment string) error {
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return &Error{Code: CodeInvalidComment, Field: "comment"}
	}
	return nil
}

// Submission is everything ValidateReview looks at.
type Submission struct {
	Assignment *types.Assignment
	Existing   *types.Review
	UserID     string
	Scores     types.Scores
	Comment    string
	Now        time.Time
}

// ValidateReview runs every check and stops at the first failure.
func ValidateReview(in Submission) error {
	checks := []func() error{
		func() error { return CheckOwnership(in.Assignment, in.UserID) },
		func() error { return CheckStatus(in.Assignment) },
		func() error { return CheckExpiration(in.Assignment, in.Now) },
		func() error { return CheckNoDuplicate(in.Existing) },
		func() error { return CheckScores(in.Scores) },
		func() error { return CheckComment(in.Comment) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
