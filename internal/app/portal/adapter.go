package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

const megabyte = 1024 * 1024

// Status strings reported by GetSubmissionStatus.
const (
	StatusReceived = "received"
	StatusNotFound = "not_found"
)

// Payload is the portal-specific submission body built by FormatSubmission.
type Payload map[string]any

// Receipt is what a portal hands back for an accepted submission.
type Receipt struct {
	ConfirmationNumber string
	SubmittedAt        time.Time
	Metadata           map[string]string
}

// Adapter encapsulates everything portal-specific. ValidateRequirements and
// FormatSubmission are local and must not block; Submit, VerifySubmission and
// GetSubmissionStatus may block and must honour ctx.
type Adapter interface {
	Name() string
	ValidateRequirements(doc model.BidDocument) []string
	FormatSubmission(job *model.SubmissionJob, doc model.BidDocument) (Payload, error)
	Submit(ctx context.Context, payload Payload) (*Receipt, error)
	VerifySubmission(ctx context.Context, confirmation string) (bool, error)
	GetSubmissionStatus(ctx context.Context, confirmation string) (string, error)
}

// Simulation stands in for the network round trip of a portal call.
// Fail, when set, is consulted after the latency elapses.
type Simulation struct {
	Latency time.Duration
	Fail    func(ctx context.Context, payload Payload) error
}

func (s Simulation) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s Simulation) call(ctx context.Context, payload Payload) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if s.Fail != nil {
		return s.Fail(ctx, payload)
	}
	return nil
}

// newConfirmation returns prefix-XXXXXXXX with eight uppercase hex characters.
func newConfirmation(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(id[:8])
}

func requireFields(doc model.BidDocument, fields ...string) []string {
	var errs []string
	for _, field := range fields {
		if !doc.Has(field) {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
		}
	}
	return errs
}

func checkFileSize(doc model.BidDocument, limitMB int64) []string {
	if !doc.Present("file_size") {
		return nil
	}
	size, ok := doc.Int64("file_size")
	if !ok || size < 0 {
		return []string{fmt.Sprintf("Invalid file_size: %v", doc.Content["file_size"])}
	}
	if size > limitMB*megabyte {
		return []string{fmt.Sprintf("File size %d bytes exceeds %dMB limit", size, limitMB)}
	}
	return nil
}

func checkFileFormat(doc model.BidDocument, accepted ...string) []string {
	if !doc.Has("file_format") {
		return nil
	}
	format := strings.ToUpper(strings.TrimPrefix(doc.String("file_format"), "."))
	for _, a := range accepted {
		if format == a {
			return nil
		}
	}
	return []string{fmt.Sprintf("Unsupported file format: %s (accepted: %s)", doc.String("file_format"), strings.Join(accepted, ", "))}
}

// basePayload carries the identifiers every portal payload includes.
func basePayload(job *model.SubmissionJob) Payload {
	return Payload{
		"job_id":          job.JobID,
		"rfp_id":          job.RFPID,
		"bid_document_id": job.BidDocumentID,
		"deadline":        job.Deadline.Format(time.RFC3339),
	}
}

func stringValue(p Payload, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
