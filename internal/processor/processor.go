package processor

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/hermes"
	"github.com/MikeSquared-Agency/threadqa/internal/jobs"
)

// Jobs is the job manager surface the NATS handlers drive.
type Jobs interface {
	Start(req extraction.Request) (*jobs.Job, error)
	Cancel(id string) (*jobs.Job, error)
	CancelSubmission(submissionID string) (*jobs.Job, error)
}

// Publisher sends replies back onto the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor turns bus messages into job manager calls.
type Processor struct {
	jobs   Jobs
	bus    Publisher
	logger *slog.Logger
}

func New(j Jobs, bus Publisher, logger *slog.Logger) *Processor {
	return &Processor{jobs: j, bus: bus, logger: logger}
}

// Rejection is published when a requested extraction cannot start.
type Rejection struct {
	SubmissionID string `json:"submission_id"`
	Reason       string `json:"reason"`
	Conflict     bool   `json:"conflict,omitempty"`
}

// HandleExtractRequested is the NATS handler for threadqa.extract.requested.
func (p *Processor) HandleExtractRequested(subject string, data []byte) {
	var req extraction.Request
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse extract request", "subject", subject, "error", err)
		p.reject(Rejection{Reason: "invalid JSON payload"})
		return
	}

	job, err := p.jobs.Start(req)
	if err != nil {
		p.logger.Warn("extract request rejected", "submission_id", req.SubmissionID, "error", err)
		p.reject(Rejection{
			SubmissionID: req.SubmissionID,
			Reason:       err.Error(),
			Conflict:     errors.Is(err, jobs.ErrJobActive),
		})
		return
	}

	p.logger.Info("extract request accepted",
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
	)
}

// HandleCancelRequested is the NATS handler for threadqa.extract.cancel.
func (p *Processor) HandleCancelRequested(subject string, data []byte) {
	var req hermes.CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse cancel request", "subject", subject, "error", err)
		return
	}

	var err error
	switch {
	case req.JobID != "":
		_, err = p.jobs.Cancel(req.JobID)
	case req.SubmissionID != "":
		_, err = p.jobs.CancelSubmission(req.SubmissionID)
	default:
		p.logger.Warn("cancel request names no job")
		return
	}
	if err != nil {
		p.logger.Warn("cancel request ignored", "job_id", req.JobID, "submission_id", req.SubmissionID, "error", err)
	}
}

func (p *Processor) reject(r Rejection) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(hermes.SubjectExtractRejected, r); err != nil {
		p.logger.Error("failed to publish rejection", "error", err)
	}
}
