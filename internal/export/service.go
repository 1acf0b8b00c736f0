package export

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adiwn/agreementmart/internal/domain"
	"github.com/adiwn/agreementmart/internal/repository"
)

type workerFunc func(context.Context, domain.ExportJob) error

var errJobNotRunnable = errors.New("export job is no longer runnable")

// Service streams agreement versions to CSV files in the background. Jobs are
// queued in agreement_export_jobs and downloaded through short-lived signed
// links.
type Service struct {
	versions   repository.AgreementVersionRepository
	exportRepo repository.ExportJobRepository

	exportDir  string
	jobTimeout time.Duration
	pageSize   int
	now        func() time.Time

	downloadSigner *downloadSigner

	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

func NewService(
	versions repository.AgreementVersionRepository,
	exportRepo repository.ExportJobRepository,
	opts ...Option,
) *Service {
	service := &Service{
		versions:   versions,
		exportRepo: exportRepo,
		exportDir:  filepath.Join(os.TempDir(), "agreementmart-exports"),
		jobTimeout: 30 * time.Minute,
		pageSize:   1000,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(5 * time.Minute)
	}
	return service
}

// QueueCurrentExport queues a CSV export of every current version.
func (s *Service) QueueCurrentExport(ctx context.Context) (domain.ExportJob, error) {
	_, total, err := s.versions.ListCurrentPage(ctx, 1, 0)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("estimate export rows: %w", err)
	}
	job := domain.ExportJob{
		JobType:       domain.ExportJobTypeCurrent,
		RowsRequested: total,
	}
	persisted, err := s.exportRepo.Create(ctx, job)
	if err != nil {
		return domain.ExportJob{}, err
	}
	s.launchWorker(persisted, s.runCurrentExport)
	return persisted, nil
}

// QueueHistoryExport queues a CSV export of one business key's full history.
func (s *Service) QueueHistoryExport(ctx context.Context, customerID, applicationID string) (domain.ExportJob, error) {
	customerID = strings.TrimSpace(customerID)
	applicationID = strings.TrimSpace(applicationID)
	if customerID == "" || applicationID == "" {
		return domain.ExportJob{}, errors.New("customer id and application id are required")
	}
	job := domain.ExportJob{
		JobType:       domain.ExportJobTypeHistory,
		CustomerID:    &customerID,
		ApplicationID: &applicationID,
	}
	persisted, err := s.exportRepo.Create(ctx, job)
	if err != nil {
		return domain.ExportJob{}, err
	}
	s.launchWorker(persisted, s.runHistoryExport)
	return persisted, nil
}

func (s *Service) ListJobs(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error) {
	return s.exportRepo.List(ctx, statuses, limit, offset)
}

// GetJob returns the metadata for a single export job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	return s.exportRepo.GetByID(ctx, id)
}

// BuildDownloadURL signs a short-lived download URL for completed export files.
func (s *Service) BuildDownloadURL(job domain.ExportJob) (*string, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, nil
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, nil
	}
	if s.downloadSigner == nil {
		return nil, errors.New("download signer not configured")
	}
	token := s.downloadSigner.Sign(job.ID, s.now())
	values := url.Values{}
	values.Set("token", token)
	download := fmt.Sprintf("/exports/files/%s?%s", job.ID.String(), values.Encode())
	return &download, nil
}

// ValidateDownloadToken ensures the token is valid for the given job.
func (s *Service) ValidateDownloadToken(jobID uuid.UUID, token string) error {
	if s.downloadSigner == nil {
		return errors.New("download signer not configured")
	}
	return s.downloadSigner.Verify(jobID, token, s.now())
}

// OpenJobFile opens the completed export file for streaming to the client.
func (s *Service) OpenJobFile(job domain.ExportJob) (*os.File, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, errors.New("export is not completed")
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, errors.New("export file is unavailable")
	}
	file, err := os.Open(*job.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// CancelJob requests cancellation for a pending or running export job.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	job, err := s.exportRepo.GetByID(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
		return job, fmt.Errorf("export job in status %s cannot be cancelled", job.Status)
	}
	reason := "Cancelled by user"
	if err := s.exportRepo.MarkCancelled(ctx, id, reason); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			updated, getErr := s.exportRepo.GetByID(ctx, id)
			if getErr != nil {
				return domain.ExportJob{}, getErr
			}
			return updated, nil
		}
		return domain.ExportJob{}, err
	}
	if cancel, ok := s.workerCancels.LoadAndDelete(id); ok {
		if fn, okCast := cancel.(context.CancelFunc); okCast {
			fn()
		}
	}
	return s.exportRepo.GetByID(ctx, id)
}

func (s *Service) launchWorker(job domain.ExportJob, run workerFunc) {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	ctx := baseCtx
	cancelFunc := baseCancel
	if s.jobTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(baseCtx, s.jobTimeout)
		ctx = timeoutCtx
		cancelFunc = func() {
			timeoutCancel()
			baseCancel()
		}
	}
	s.workerCancels.Store(job.ID, cancelFunc)
	go func() {
		defer func() {
			cancelFunc()
			s.workerCancels.Delete(job.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				log.Printf("[export] panic while processing job %s: %v", job.ID, rec)
				s.failJob(context.Background(), job.ID, err)
			}
		}()
		if err := run(ctx, job); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				log.Printf("[export] job %s cancelled", job.ID)
			case errors.Is(err, errJobNotRunnable):
				log.Printf("[export] job %s not runnable, skipping", job.ID)
			default:
				s.failJob(ctx, job.ID, err)
			}
		}
	}()
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	if err == nil {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	message := truncateError(err)
	if markErr := s.exportRepo.MarkFailed(ctx, jobID, message); markErr != nil {
		log.Printf("[export] failed to mark job %s as failed: %v (original error: %v)", jobID, markErr, err)
		return
	}
	log.Printf("[export] job %s failed: %v", jobID, err)
}

func (s *Service) runCurrentExport(ctx context.Context, job domain.ExportJob) error {
	if err := s.exportRepo.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return errJobNotRunnable
		}
		return fmt.Errorf("mark export job running: %w", err)
	}

	writer, err := s.openExportFile(job)
	if err != nil {
		return err
	}
	defer writer.discard()

	if err := writer.writeHeader(); err != nil {
		return err
	}

	rowsExported := 0
	rowsTarget := job.RowsRequested
	offset := 0
	pageSize := s.pageSize

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		versions, total, err := s.versions.ListCurrentPage(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("list current versions: %w", err)
		}
		if offset == 0 && total > 0 {
			rowsTarget = total
		}
		if len(versions) == 0 {
			break
		}
		for i := range versions {
			if err := writer.writeVersion(versions[i]); err != nil {
				return err
			}
			rowsExported++
		}
		if err := writer.flush(); err != nil {
			return err
		}
		var requestedPtr *int
		if rowsTarget > 0 {
			requestedPtr = &rowsTarget
		}
		if err := s.exportRepo.UpdateProgress(ctx, job.ID, rowsExported, writer.bytesWritten(), requestedPtr); err != nil {
			return fmt.Errorf("update export progress: %w", err)
		}
		if rowsTarget > 0 && rowsExported >= rowsTarget {
			break
		}
		if len(versions) < pageSize {
			break
		}
		offset += pageSize
	}

	return s.finishJob(ctx, job, writer, rowsExported)
}

func (s *Service) runHistoryExport(ctx context.Context, job domain.ExportJob) error {
	if job.CustomerID == nil || job.ApplicationID == nil {
		return errors.New("export job missing business key")
	}
	if err := s.exportRepo.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return errJobNotRunnable
		}
		return fmt.Errorf("mark export job running: %w", err)
	}

	versions, err := s.versions.ListHistory(ctx, *job.CustomerID, *job.ApplicationID)
	if err != nil {
		return fmt.Errorf("list version history: %w", err)
	}

	writer, err := s.openExportFile(job)
	if err != nil {
		return err
	}
	defer writer.discard()

	if err := writer.writeHeader(); err != nil {
		return err
	}
	for i := range versions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := writer.writeVersion(versions[i]); err != nil {
			return err
		}
	}
	if err := writer.flush(); err != nil {
		return err
	}
	rows := len(versions)
	if err := s.exportRepo.UpdateProgress(ctx, job.ID, rows, writer.bytesWritten(), &rows); err != nil {
		return fmt.Errorf("update export progress: %w", err)
	}

	return s.finishJob(ctx, job, writer, rows)
}

func (s *Service) finishJob(ctx context.Context, job domain.ExportJob, writer *exportFile, rowsExported int) error {
	finalPath := filepath.Join(s.exportDir, s.finalFileName(job))
	size, bytesWritten, err := writer.promote(finalPath)
	if err != nil {
		return err
	}
	mime := "text/csv"
	if err := s.exportRepo.MarkCompleted(ctx, job.ID, repository.ExportResult{
		RowsExported: rowsExported,
		BytesWritten: bytesWritten,
		FilePath:     &finalPath,
		FileMimeType: &mime,
		FileByteSize: &size,
	}); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	log.Printf("[export] job %s completed (rows=%d path=%s)", job.ID, rowsExported, finalPath)
	return nil
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	return nil
}

func (s *Service) finalFileName(job domain.ExportJob) string {
	base := "agreements-current"
	if job.JobType == domain.ExportJobTypeHistory {
		base = "agreement-history"
	}
	return fmt.Sprintf("%s-%s.csv", base, job.ID.String())
}

var csvColumns = []string{
	"id", "customer_id", "application_id", "contract_status", "rrd_date",
	"installment_amount", "ltv_by_total_otr", "outstanding_principal", "product_sk",
	"branch_code", "branch_name", "product_code", "product_name", "risk_grade",
	"tenor_months", "disbursement_amount", "insurance_company", "agreement_date",
	"last_paid_date", "next_due_date", "installments_paid", "highest_overdue_count",
	"real_ltv_group", "pefindo_score", "pefindo_score_partner", "mobile_phone",
	"is_current", "process_date", "created_at",
}

func versionRecord(v domain.AgreementVersion) []string {
	return []string{
		v.ID.String(),
		v.CustomerID,
		v.ApplicationID,
		v.ContractStatus,
		formatDate(v.RRDDate),
		formatFloat(v.InstallmentAmount),
		formatFloat(v.LTVByTotalOTR),
		formatFloat(v.OutstandingPrincipal),
		formatInt64(v.ProductSK),
		v.BranchCode,
		v.BranchName,
		v.ProductCode,
		v.ProductName,
		v.RiskGrade,
		formatInt32(v.TenorMonths),
		formatFloat(v.DisbursementAmount),
		v.InsuranceCompany,
		formatDate(v.AgreementDate),
		formatDate(v.Volatile.LastPaidDate),
		formatDate(v.Volatile.NextDueDate),
		formatInt32(v.Volatile.InstallmentsPaid),
		formatInt32(v.Volatile.HighestOverdueCount),
		formatString(v.Volatile.RealLTVGroup),
		formatInt32(v.Volatile.PefindoScore),
		formatInt32(v.Volatile.PefindoScorePartner),
		formatString(v.Volatile.MobilePhone),
		strconv.FormatBool(v.IsCurrent),
		v.ProcessDate.Format("2006-01-02"),
		v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt64(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}

func formatInt32(i *int32) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(int64(*i), 10)
}

func formatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// exportFile bundles the temp file, buffering and byte counting for one job.
type exportFile struct {
	file      *os.File
	tempPath  string
	buffered  *bufio.Writer
	counter   *countingWriter
	csvWriter *csv.Writer
	promoted  bool
}

func (s *Service) openExportFile(job domain.ExportJob) (*exportFile, error) {
	if err := s.ensureExportDirectory(); err != nil {
		return nil, err
	}
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.csv", job.ID))
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	buffered := bufio.NewWriterSize(tempFile, 1<<20) // 1 MiB buffer for streaming writes
	counter := &countingWriter{writer: buffered}
	return &exportFile{
		file:      tempFile,
		tempPath:  tempFile.Name(),
		buffered:  buffered,
		counter:   counter,
		csvWriter: csv.NewWriter(counter),
	}, nil
}

func (f *exportFile) writeHeader() error {
	if err := f.csvWriter.Write(csvColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return f.flush()
}

func (f *exportFile) writeVersion(v domain.AgreementVersion) error {
	if err := f.csvWriter.Write(versionRecord(v)); err != nil {
		return fmt.Errorf("write version row: %w", err)
	}
	return nil
}

func (f *exportFile) flush() error {
	f.csvWriter.Flush()
	if err := f.csvWriter.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := f.buffered.Flush(); err != nil {
		return fmt.Errorf("flush buffered rows: %w", err)
	}
	return nil
}

func (f *exportFile) bytesWritten() int64 {
	return f.counter.count
}

// promote finalizes the temp file under its final name and returns the file
// size and the bytes streamed through the writer.
func (f *exportFile) promote(finalPath string) (int64, int64, error) {
	if err := f.flush(); err != nil {
		return 0, 0, err
	}
	if err := f.file.Sync(); err != nil {
		return 0, 0, fmt.Errorf("sync export file: %w", err)
	}
	if err := f.file.Close(); err != nil {
		return 0, 0, fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(f.tempPath, finalPath); err != nil {
		return 0, 0, fmt.Errorf("promote export file: %w", err)
	}
	f.promoted = true
	info, err := os.Stat(finalPath)
	if err != nil {
		return 0, 0, fmt.Errorf("stat export file: %w", err)
	}
	size := info.Size()
	bytesWritten := f.counter.count
	if bytesWritten == 0 {
		bytesWritten = size
	}
	return size, bytesWritten, nil
}

func (f *exportFile) discard() {
	if f.promoted {
		return
	}
	_ = f.file.Close()
	_ = os.Remove(f.tempPath)
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(jobID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", jobID.String(), expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%s:%s", payload, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(jobID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != jobID.String() {
		return errors.New("token does not match export job")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	payload := fmt.Sprintf("%s:%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}
