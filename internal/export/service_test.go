package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"
	"github.com/adiwn/agreementmart/internal/repository"

	"github.com/google/uuid"
)

type stubVersionRepo struct {
	versions []domain.AgreementVersion
}

func (r *stubVersionRepo) ListCurrent(_ context.Context) ([]domain.AgreementVersion, error) {
	out := []domain.AgreementVersion{}
	for _, v := range r.versions {
		if v.IsCurrent {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *stubVersionRepo) ListSignatures(_ context.Context) ([]domain.ChangeSignature, error) {
	return nil, nil
}

func (r *stubVersionRepo) ExpireVersions(_ context.Context, _ []uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *stubVersionRepo) InsertVersions(_ context.Context, _ []domain.AgreementVersion) (int64, error) {
	return 0, nil
}

func (r *stubVersionRepo) PatchVolatile(_ context.Context, _ []repository.VolatilePatch) (int64, error) {
	return 0, nil
}

func (r *stubVersionRepo) CountCurrentByProcessDate(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *stubVersionRepo) GetByID(_ context.Context, _ uuid.UUID) (domain.AgreementVersion, error) {
	return domain.AgreementVersion{}, errors.New("not found")
}

func (r *stubVersionRepo) ListCurrentPage(ctx context.Context, limit int, offset int) ([]domain.AgreementVersion, int, error) {
	current, _ := r.ListCurrent(ctx)
	total := len(current)
	if offset >= total {
		return []domain.AgreementVersion{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return current[offset:end], total, nil
}

func (r *stubVersionRepo) ListHistory(_ context.Context, customerID string, applicationID string) ([]domain.AgreementVersion, error) {
	out := []domain.AgreementVersion{}
	for _, v := range r.versions {
		if v.CustomerID == customerID && v.ApplicationID == applicationID {
			out = append(out, v)
		}
	}
	return out, nil
}

type stubExportRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ExportJob
}

func newStubExportRepo() *stubExportRepo {
	return &stubExportRepo{jobs: map[uuid.UUID]domain.ExportJob{}}
}

func (r *stubExportRepo) Create(_ context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = domain.ExportJobStatusPending
	job.EnqueuedAt = time.Now()
	job.UpdatedAt = job.EnqueuedAt
	r.jobs[job.ID] = job
	return job, nil
}

func (r *stubExportRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ExportJob{}, errors.New("not found")
	}
	return job, nil
}

func (r *stubExportRepo) List(_ context.Context, statuses []domain.ExportJobStatus, _ int, _ int) ([]domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.ExportJob{}
	for _, job := range r.jobs {
		for _, status := range statuses {
			if job.Status == status {
				out = append(out, job)
				break
			}
		}
	}
	return out, nil
}

func (r *stubExportRepo) MarkRunning(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.ExportJobStatusPending {
		return repository.ErrExportJobStatusConflict
	}
	job.Status = domain.ExportJobStatusRunning
	r.jobs[id] = job
	return nil
}

func (r *stubExportRepo) UpdateProgress(_ context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.RowsExported = rowsExported
	job.BytesWritten = bytesWritten
	if rowsRequested != nil {
		job.RowsRequested = *rowsRequested
	}
	r.jobs[id] = job
	return nil
}

func (r *stubExportRepo) MarkCompleted(_ context.Context, id uuid.UUID, result repository.ExportResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = domain.ExportJobStatusCompleted
	job.RowsExported = result.RowsExported
	job.BytesWritten = result.BytesWritten
	job.FilePath = result.FilePath
	job.FileMimeType = result.FileMimeType
	job.FileByteSize = result.FileByteSize
	r.jobs[id] = job
	return nil
}

func (r *stubExportRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = domain.ExportJobStatusFailed
	job.ErrorMessage = &errorMessage
	r.jobs[id] = job
	return nil
}

func (r *stubExportRepo) MarkCancelled(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrExportJobStatusConflict
	}
	if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
		return repository.ErrExportJobStatusConflict
	}
	job.Status = domain.ExportJobStatusCancelled
	job.ErrorMessage = &reason
	r.jobs[id] = job
	return nil
}

func testVersion(customerID, applicationID string, current bool) domain.AgreementVersion {
	principal := 1000.0
	return domain.AgreementVersion{
		ID: uuid.New(),
		AgreementSnapshotRow: domain.AgreementSnapshotRow{
			CustomerID:           customerID,
			ApplicationID:        applicationID,
			ContractStatus:       "ACTIVE",
			OutstandingPrincipal: &principal,
		},
		IsCurrent:   current,
		ProcessDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC),
	}
}

func waitForStatus(t *testing.T, repo *stubExportRepo, id uuid.UUID, want domain.ExportJobStatus) domain.ExportJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := repo.GetByID(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		if err == nil && job.Status == domain.ExportJobStatusFailed && want != domain.ExportJobStatusFailed {
			message := ""
			if job.ErrorMessage != nil {
				message = *job.ErrorMessage
			}
			t.Fatalf("job failed while waiting for %s: %s", want, message)
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %s", id, want)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestCurrentExportWritesCSV(t *testing.T) {
	versions := &stubVersionRepo{versions: []domain.AgreementVersion{
		testVersion("C001", "A001", true),
		testVersion("C002", "A002", true),
		testVersion("C003", "A003", false),
	}}
	exportRepo := newStubExportRepo()
	service := NewService(versions, exportRepo,
		WithExportDirectory(t.TempDir()),
		WithPageSize(1),
	)

	job, err := service.QueueCurrentExport(context.Background())
	if err != nil {
		t.Fatalf("QueueCurrentExport failed: %v", err)
	}
	if job.RowsRequested != 2 {
		t.Fatalf("expected 2 requested rows, got %d", job.RowsRequested)
	}

	completed := waitForStatus(t, exportRepo, job.ID, domain.ExportJobStatusCompleted)
	if completed.RowsExported != 2 {
		t.Fatalf("expected 2 exported rows, got %d", completed.RowsExported)
	}
	if completed.FilePath == nil {
		t.Fatal("completed job has no file path")
	}

	file, err := os.Open(*completed.FilePath)
	if err != nil {
		t.Fatalf("open export file: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read export csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d records", len(records))
	}
	if records[0][1] != "customer_id" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][1] != "C001" || records[2][1] != "C002" {
		t.Fatalf("unexpected row order: %v / %v", records[1], records[2])
	}
}

func TestHistoryExportCoversAllVersions(t *testing.T) {
	versions := &stubVersionRepo{versions: []domain.AgreementVersion{
		testVersion("C001", "A001", false),
		testVersion("C001", "A001", true),
		testVersion("C002", "A002", true),
	}}
	exportRepo := newStubExportRepo()
	service := NewService(versions, exportRepo, WithExportDirectory(t.TempDir()))

	job, err := service.QueueHistoryExport(context.Background(), "C001", "A001")
	if err != nil {
		t.Fatalf("QueueHistoryExport failed: %v", err)
	}

	completed := waitForStatus(t, exportRepo, job.ID, domain.ExportJobStatusCompleted)
	if completed.RowsExported != 2 {
		t.Fatalf("expected both versions exported, got %d", completed.RowsExported)
	}
}

func TestHistoryExportRequiresKey(t *testing.T) {
	service := NewService(&stubVersionRepo{}, newStubExportRepo(), WithExportDirectory(t.TempDir()))
	if _, err := service.QueueHistoryExport(context.Background(), "", "A001"); err == nil {
		t.Fatal("expected error for missing customer id")
	}
}

func TestDownloadTokenRoundTrip(t *testing.T) {
	signer := newDownloadSigner(time.Minute)
	jobID := uuid.New()
	now := time.Now()

	token := signer.Sign(jobID, now)
	if err := signer.Verify(jobID, token, now.Add(30*time.Second)); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := signer.Verify(jobID, token, now.Add(2*time.Minute)); err == nil {
		t.Fatal("expired token accepted")
	}
	if err := signer.Verify(uuid.New(), token, now); err == nil {
		t.Fatal("token accepted for wrong job")
	}
	if err := signer.Verify(jobID, token+"x", now); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestCancelPendingJob(t *testing.T) {
	exportRepo := newStubExportRepo()
	service := NewService(&stubVersionRepo{}, exportRepo, WithExportDirectory(t.TempDir()))

	created, err := exportRepo.Create(context.Background(), domain.ExportJob{JobType: domain.ExportJobTypeCurrent})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	cancelled, err := service.CancelJob(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if cancelled.Status != domain.ExportJobStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	if !strings.Contains(service.finalFileName(created), "agreements-current") {
		t.Fatalf("unexpected file name: %s", service.finalFileName(created))
	}
}
