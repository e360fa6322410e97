package types

// Scores are pointers so a missing field is told apart from a zero score.
type SubmitReviewRequest struct {
	Clarity    *int   `json:"clarity" validate:"required"`
	Argument   *int   `json:"argument" validate:"required"`
	Style      *int   `json:"style" validate:"required"`
	MoralDepth *int   `json:"moral_depth" validate:"required"`
	Comment    string `json:"comment"`
}

func (r SubmitReviewRequest) Scores() Scores {
	return Scores{
		Clarity:    *r.Clarity,
		Argument:   *r.Argument,
		Style:      *r.Style,
		MoralDepth: *r.MoralDepth,
	}
}

type PlanRequest struct {
	ReviewsPerReviewer int `json:"reviews_per_reviewer" validate:"omitempty,min=1,max=50"`
}

type VerificationRequest struct {
	PaymentID string `json:"payment_id" validate:"required,uuid"`
}

type BanRequest struct {
	Banned *bool `json:"banned" validate:"required"`
}

type ScoreResponse struct {
	SubmissionID string  `json:"submission_id"`
	ScorePeer    float64 `json:"score_peer"`
}

type PlanResponse struct {
	ContestID   string        `json:"contest_id"`
	Count       int           `json:"count"`
	Assignments []*Assignment `json:"assignments"`
}

type JobResponse struct {
	Job    string   `json:"job"`
	Count  int      `json:"count"`
	Errors []string `json:"errors,omitempty"`
	Error  string   `json:"error,omitempty"`
}
