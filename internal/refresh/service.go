package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"
	"github.com/adiwn/agreementmart/internal/repository"
	"github.com/adiwn/agreementmart/internal/snapshot"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a refresh is triggered while another run
// is still active. Runs are single-flight per process.
var ErrRunInProgress = errors.New("a refresh run is already in progress")

// Service orchestrates one refresh run: assemble the snapshot, plan the diff,
// then apply expirations, insertions and volatile patches in that order, with
// every run audited in job_runs.
type Service struct {
	versions  repository.AgreementVersionRepository
	runs      repository.JobRunRepository
	quality   repository.DataQualityRepository
	assembler snapshot.Assembler

	now    func() time.Time
	active atomic.Bool
}

type Option func(*Service)

// WithClock overrides the run clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a refresh service using the given assembler as the
// default snapshot source.
func NewService(
	versions repository.AgreementVersionRepository,
	runs repository.JobRunRepository,
	quality repository.DataQualityRepository,
	assembler snapshot.Assembler,
	opts ...Option,
) *Service {
	service := &Service{
		versions:  versions,
		runs:      runs,
		quality:   quality,
		assembler: assembler,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Summary reports what one run changed.
type Summary struct {
	RunID        uuid.UUID `json:"runId"`
	ProcessDate  time.Time `json:"processDate"`
	SnapshotRows int       `json:"snapshotRows"`
	Expired      int64     `json:"expired"`
	Inserted     int64     `json:"inserted"`
	Patched      int64     `json:"patched"`
	Warnings     int       `json:"warnings"`
	CurrentRows  int64     `json:"currentRows"`
}

// Run executes a full refresh synchronously with the default assembler.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	return s.RunWith(ctx, s.assembler)
}

// RunWith executes a full refresh synchronously against the given snapshot
// source. Used by the upload endpoint for file backfills.
func (s *Service) RunWith(ctx context.Context, assembler snapshot.Assembler) (Summary, error) {
	if !s.active.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer s.active.Store(false)

	run, err := s.startRun(ctx)
	if err != nil {
		return Summary{}, err
	}
	return s.complete(ctx, run, assembler)
}

// Trigger starts a refresh in the background and returns the run record
// immediately.
func (s *Service) Trigger(ctx context.Context) (domain.JobRun, error) {
	if !s.active.CompareAndSwap(false, true) {
		return domain.JobRun{}, ErrRunInProgress
	}

	run, err := s.startRun(ctx)
	if err != nil {
		s.active.Store(false)
		return domain.JobRun{}, err
	}

	go func() {
		defer s.active.Store(false)
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[refresh] panic during run %s: %v", run.ID, rec)
				s.failRun(context.Background(), run.ID, fmt.Errorf("panic: %v", rec))
			}
		}()
		// Detached from the triggering request's lifetime.
		if _, err := s.complete(context.Background(), run, s.assembler); err != nil {
			log.Printf("[refresh] run %s failed: %v", run.ID, err)
		}
	}()

	return run, nil
}

func (s *Service) startRun(ctx context.Context) (domain.JobRun, error) {
	processDate := s.now().UTC()
	processDate = time.Date(processDate.Year(), processDate.Month(), processDate.Day(), 0, 0, 0, 0, time.UTC)

	run, err := s.runs.Start(ctx, domain.JobRun{ProcessDate: processDate})
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("failed to start run: %w", err)
	}
	log.Printf("[refresh] run %s started (process date %s)", run.ID, processDate.Format("2006-01-02"))
	return run, nil
}

func (s *Service) complete(ctx context.Context, run domain.JobRun, assembler snapshot.Assembler) (Summary, error) {
	summary, err := s.apply(ctx, run, assembler)
	if err != nil {
		s.failRun(ctx, run.ID, err)
		return summary, err
	}

	if err := s.runs.MarkSuccess(ctx, run.ID, summary.CurrentRows); err != nil {
		return summary, fmt.Errorf("failed to mark run success: %w", err)
	}
	log.Printf("[refresh] run %s succeeded: expired=%d inserted=%d patched=%d current=%d warnings=%d",
		run.ID, summary.Expired, summary.Inserted, summary.Patched, summary.CurrentRows, summary.Warnings)
	return summary, nil
}

func (s *Service) apply(ctx context.Context, run domain.JobRun, assembler snapshot.Assembler) (Summary, error) {
	summary := Summary{RunID: run.ID, ProcessDate: run.ProcessDate}

	if assembler == nil {
		return summary, errors.New("no snapshot assembler configured")
	}

	result, err := assembler.Assemble(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to assemble snapshot: %w", err)
	}
	summary.SnapshotRows = len(result.Rows)
	s.recordWarnings(ctx, run.ID, result.Warnings)
	summary.Warnings += len(result.Warnings)

	current, err := s.versions.ListCurrent(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load current versions: %w", err)
	}
	existing, err := s.versions.ListSignatures(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load version signatures: %w", err)
	}

	plan := BuildPlan(current, existing, result.Rows)
	s.recordWarnings(ctx, run.ID, plan.Warnings)
	summary.Warnings += len(plan.Warnings)

	// Expirations must land before insertions so a changed agreement never
	// holds two current versions.
	expired, err := s.versions.ExpireVersions(ctx, plan.ExpireIDs)
	if err != nil {
		return summary, fmt.Errorf("failed to expire versions: %w", err)
	}
	summary.Expired = expired

	newVersions := make([]domain.AgreementVersion, 0, len(plan.Inserts))
	for _, row := range plan.Inserts {
		newVersions = append(newVersions, domain.NewVersionFromSnapshot(row, run.ProcessDate))
	}
	inserted, err := s.versions.InsertVersions(ctx, newVersions)
	if err != nil {
		return summary, fmt.Errorf("failed to insert versions: %w", err)
	}
	summary.Inserted = inserted

	patched, err := s.versions.PatchVolatile(ctx, plan.Patches)
	if err != nil {
		return summary, fmt.Errorf("failed to patch volatile attributes: %w", err)
	}
	summary.Patched = patched

	currentRows, err := s.versions.CountCurrentByProcessDate(ctx, run.ProcessDate)
	if err != nil {
		return summary, fmt.Errorf("failed to count current versions: %w", err)
	}
	summary.CurrentRows = currentRows

	return summary, nil
}

func (s *Service) recordWarnings(ctx context.Context, runID uuid.UUID, warnings []snapshot.Warning) {
	if s.quality == nil {
		return
	}
	for _, warning := range warnings {
		entry := domain.DataQualityEntry{
			RunID:         runID,
			Source:        warning.Source,
			ApplicationID: warning.ApplicationID,
			RowNumber:     warning.RowNumber,
			Message:       warning.Message,
		}
		if err := s.quality.Record(ctx, entry); err != nil {
			log.Printf("[refresh] failed to record data quality entry: %v", err)
		}
	}
}

func (s *Service) failRun(ctx context.Context, runID uuid.UUID, runErr error) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	message := runErr.Error()
	const maxLen = 512
	if len(message) > maxLen {
		message = message[:maxLen]
	}
	if err := s.runs.MarkFailed(ctx, runID, message); err != nil {
		log.Printf("[refresh] failed to mark run %s as failed: %v (original error: %v)", runID, err, runErr)
	}
}
