package lifecycle

import (
	"context"
	"fmt"
	"log"
)

type Job string

const (
	JobExpire        Job = "expire"
	JobReassign      Job = "reassign"
	JobWarnings      Job = "warnings"
	JobReminders     Job = "reminders"
	JobVerifications Job = "verifications"
)

// Jobs lists every job in the order RunAll executes them.
var Jobs = []Job{JobExpire, JobReassign, JobWarnings, JobReminders, JobVerifications}

func ParseJob(name string) (Job, error) {
	for _, j := range Jobs {
		if string(j) == name {
			return j, nil
		}
	}
	return "", fmt.Errorf("unknown job %q", name)
}

type JobResult struct {
	Job    Job
	Result BatchResult
	Err    error
}

func (s *service) Run(ctx context.Context, job Job) (BatchResult, error) {
	switch job {
	case JobExpire:
		return s.CheckExpiredAssignments(ctx)
	case JobReassign:
		return s.ReassignExpiredAssignments(ctx)
	case JobWarnings:
		return s.SendDeadlineWarnings(ctx)
	case JobReminders:
		return s.SendFinalReminders(ctx)
	case JobVerifications:
		return s.CheckIncompleteVerifications(ctx)
	}
	return BatchResult{}, fmt.Errorf("unknown job %q", job)
}

// RunAll runs every job once. A job that fails outright does not stop the
// ones after it.
func (s *service) RunAll(ctx context.Context) []JobResult {
	results := make([]JobResult, 0, len(Jobs))
	for _, job := range Jobs {
		res, err := s.Run(ctx, job)
		if err != nil {
			log.Printf("Job %s failed: %v", job, err)
		}
		for _, itemErr := range res.Errors {
			log.Printf("Job %s: %v", job, itemErr)
		}
		results = append(results, JobResult{Job: job, Result: res, Err: err})
	}
	return results
}
