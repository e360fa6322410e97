package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func pendingAssignment(deadline time.Time) *types.Assignment {
	return &types.Assignment{
		ID:         "a1",
		ReviewerID: "u1",
		Status:     types.AssignmentPending,
		Deadline:   deadline,
	}
}

func expectCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error %s, got %v", code, err)
	}
	if verr.Code != code {
		t.Fatalf("expected code %s, got %s", code, verr.Code)
	}
	return verr
}

func TestCheckOwnership(t *testing.T) {
	a := pendingAssignment(now)
	if err := CheckOwnership(a, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectCode(t, CheckOwnership(a, "u2"), CodeNotOwner)
}

func TestCheckStatus(t *testing.T) {
	a := pendingAssignment(now)
	if err := CheckStatus(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, status := range []types.AssignmentStatus{types.AssignmentDone, types.AssignmentExpired} {
		a.Status = status
		verr := expectCode(t, CheckStatus(a), CodeInvalidStatus)
		if verr.Status != status {
			t.Fatalf("expected status %s to be carried, got %s", status, verr.Status)
		}
	}
}

func TestCheckExpiration_Boundary(t *testing.T) {
	a := pendingAssignment(now)
	if err := CheckExpiration(a, now); err != nil {
		t.Fatalf("deadline == now must be valid, got %v", err)
	}
	expectCode(t, CheckExpiration(a, now.Add(time.Microsecond)), CodeExpired)
}

func TestCheckExpiration_PastAndFutureDeadlines(t *testing.T) {
	expectCode(t, CheckExpiration(pendingAssignment(now.Add(-time.Second)), now), CodeExpired)
	if err := CheckExpiration(pendingAssignment(now.Add(time.Second)), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckNoDuplicate(t *testing.T) {
	if err := CheckNoDuplicate(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectCode(t, CheckNoDuplicate(&types.Review{ID: "r1"}), CodeDuplicateReview)
}

func TestCheckScores(t *testing.T) {
	valid := types.Scores{Clarity: 1, Argument: 5, Style: 3, MoralDepth: 2}
	if err := CheckScores(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		scores types.Scores
		field  string
	}{
		{"clarity zero", types.Scores{Clarity: 0, Argument: 3, Style: 3, MoralDepth: 3}, "clarity"},
		{"argument six", types.Scores{Clarity: 3, Argument: 6, Style: 3, MoralDepth: 3}, "argument"},
		{"style negative", types.Scores{Clarity: 3, Argument: 3, Style: -1, MoralDepth: 3}, "style"},
		{"moral depth high", types.Scores{Clarity: 3, Argument: 3, Style: 3, MoralDepth: 10}, "moral_depth"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verr := expectCode(t, CheckScores(tc.scores), CodeInvalidScore)
			if verr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, verr.Field)
			}
			if !strings.Contains(verr.Error(), tc.field) {
				t.Fatalf("message should name the field: %s", verr.Error())
			}
		})
	}
}

func TestCheckComment(t *testing.T) {
	if err := CheckComment(strings.Repeat("é", MaxCommentLength)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectCode(t, CheckComment(strings.Repeat("a", MaxCommentLength+1)), CodeInvalidComment)
}

func TestValidateReview_Valid(t *testing.T) {
	err := ValidateReview(Submission{
		Assignment: pendingAssignment(now.Add(time.Hour)),
		UserID:     "u1",
		Scores:     types.Scores{Clarity: 4, Argument: 4, Style: 4, MoralDepth: 4},
		Comment:    "solid",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReview_FirstFailureWins(t *testing.T) {
	a := pendingAssignment(now.Add(-time.Hour))
	a.Status = types.AssignmentExpired

	err := ValidateReview(Submission{
		Assignment: a,
		UserID:     "someone-else",
		Scores:     types.Scores{},
		Now:        now,
	})
	expectCode(t, err, CodeNotOwner)

	err = ValidateReview(Submission{
		Assignment: a,
		UserID:     "u1",
		Scores:     types.Scores{},
		Now:        now,
	})
	expectCode(t, err, CodeInvalidStatus)
}

func TestError_Messages(t *testing.T) {
	if got := (&Error{Code: CodeExpired}).Error(); got != "Assignment has expired" {
		t.Fatalf("unexpected message: %s", got)
	}
	if got := (&Error{Code: CodeInvalidStatus, Status: types.AssignmentDone}).Error(); !strings.Contains(got, "DONE") {
		t.Fatalf("expected status in message: %s", got)
	}
}
