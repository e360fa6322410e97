package types

import (
	"time"
)

type SubmissionStatus string

const (
	SubmissionPending                 SubmissionStatus = "PENDING"
	SubmissionSubmitted               SubmissionStatus = "SUBMITTED"
	SubmissionReinstated              SubmissionStatus = "REINSTATED"
	SubmissionDisqualified            SubmissionStatus = "DISQUALIFIED"
	SubmissionEliminated              SubmissionStatus = "ELIMINATED"
	SubmissionPeerVerificationPending SubmissionStatus = "PEER_VERIFICATION_PENDING"
)

type AssignmentStatus string

const (
	AssignmentPending AssignmentStatus = "PENDING"
	AssignmentDone    AssignmentStatus = "DONE"
	AssignmentExpired AssignmentStatus = "EXPIRED"
	// AssignmentClosed is a verification assignment left open when its round
	// was decided.
	AssignmentClosed AssignmentStatus = "CLOSED"
)

type AssignmentKind string

const (
	KindStandard     AssignmentKind = "STANDARD"
	KindVerification AssignmentKind = "VERIFICATION"
)

type VerificationOutcome string

const (
	OutcomeIncomplete VerificationOutcome = "INCOMPLETE"
	OutcomeReinstated VerificationOutcome = "REINSTATED"
	OutcomeConfirmed  VerificationOutcome = "CONFIRMED"
)

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

const PaymentKindPeerVerification = "PEER_VERIFICATION"

// Notice identifies which pre-deadline reminder an assignment has received.
type Notice string

const (
	NoticeWarning  Notice = "warning"
	NoticeReminder Notice = "reminder"
)

type Submission struct {
	ID                    string              `json:"id"`
	ContestID             string              `json:"contest_id"`
	UserID                string              `json:"user_id"`
	Status                SubmissionStatus    `json:"status"`
	ScorePeer             *float64            `json:"score_peer,omitempty"`
	VerificationResult    *VerificationResult `json:"peer_verification_result,omitempty"`
	VerificationRequested *time.Time          `json:"peer_verification_requested_at,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// Reviewable reports whether the submission belongs in the review pool.
func (s *Submission) Reviewable() bool {
	return s.Status == SubmissionSubmitted || s.Status == SubmissionReinstated
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsBanned bool   `json:"is_banned"`
}

type Assignment struct {
	ID             string           `json:"id"`
	SubmissionID   string           `json:"submission_id"`
	ReviewerID     string           `json:"reviewer_id"`
	Kind           AssignmentKind   `json:"kind"`
	Status         AssignmentStatus `json:"status"`
	AssignedAt     time.Time        `json:"assigned_at"`
	Deadline       time.Time        `json:"deadline"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ReassignedFrom string           `json:"reassigned_from,omitempty"`
	ReassignedAt   *time.Time       `json:"reassigned_at,omitempty"`
}

type Scores struct {
	Clarity    int `json:"clarity"`
	Argument   int `json:"argument"`
	Style      int `json:"style"`
	MoralDepth int `json:"moral_depth"`
}

type Review struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	Scores       Scores    `json:"scores"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

type Payment struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	SubmissionID string        `json:"submission_id"`
	Kind         string        `json:"kind"`
	Status       PaymentStatus `json:"status"`
	Amount       int64         `json:"amount"`
	RefundedAt   *time.Time    `json:"refunded_at,omitempty"`
}

type VerificationResult struct {
	Outcome          VerificationOutcome `json:"outcome"`
	CompletedReviews int                 `json:"completed_reviews"`
	TotalReviews     int                 `json:"total_reviews"`
	Score            *float64            `json:"score,omitempty"`
	Refund           bool                `json:"refund"`
	DecidedAt        time.Time           `json:"decided_at"`
}

// AssignmentCounts is the per-status tally of one submission's assignments.
// Expired rows that were already replaced by a reassignment are not counted.
type AssignmentCounts struct {
	Pending int
	Done    int
	Expired int
}

func (c AssignmentCounts) Total() int {
	return c.Pending + c.Done + c.Expired
}
