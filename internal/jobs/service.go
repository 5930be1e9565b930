// Package jobs implements job submission and the user's gallery on top of
// the job store, the credit ledger and blob storage.
package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/storage"
)

const (
	MaxImageBytes   = 10 << 20
	MinDuration     = 5
	MaxDuration     = 64
	DefaultPlatform = "tiktok"

	defaultListLimit = 20
	maxListLimit     = 100
)

// SubmitInput is one video request as received from the client.
type SubmitInput struct {
	UserID             string
	UserEmail          string
	ProductName        string
	ProductDescription string
	TargetAudience     string
	UGCStyle           string
	Platform           string
	Duration           int
	Image              []byte
	ImageContentType   string
	ImageFilename      string
}

type Service struct {
	jobs   domain.JobRepository
	ledger domain.CreditLedger
	blobs  storage.Uploader
	logger *infra.Logger
	now    func() time.Time
}

func NewService(jobs domain.JobRepository, ledger domain.CreditLedger, blobs storage.Uploader, logger *infra.Logger) *Service {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Service{jobs: jobs, ledger: ledger, blobs: blobs, logger: logger, now: time.Now}
}

// Submit validates the request, stores the product image, charges the user
// and creates the pending job. Nothing is charged when validation or upload
// fails. When the charge or the create fails the stored image is removed, and
// a charge already taken is refunded.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.Job, error) {
	in, aspect, err := normalize(in)
	if err != nil {
		return nil, err
	}

	jobID := NewJobID(s.now())
	cost := domain.CreditCost(in.Duration)

	key := storage.ProductImageKey(in.UserID, jobID, in.ImageContentType, in.ImageFilename)
	imageURL, err := s.blobs.Put(ctx, key, in.ImageContentType, in.Image)
	if err != nil {
		return nil, fmt.Errorf("upload product image: %w", err)
	}

	if err := s.ledger.Deduct(ctx, in.UserID, jobID, cost); err != nil {
		s.discard(ctx, jobID, key)
		return nil, err
	}

	job := &domain.Job{
		JobID:              jobID,
		UserID:             in.UserID,
		UserEmail:          in.UserEmail,
		ProductName:        in.ProductName,
		ProductDescription: in.ProductDescription,
		TargetAudience:     in.TargetAudience,
		UGCStyle:           in.UGCStyle,
		Platform:           in.Platform,
		Duration:           in.Duration,
		AspectRatio:        aspect,
		SceneCount:         domain.SceneCount(in.Duration),
		ProductImageURL:    imageURL,
		Status:             domain.StatusPending,
		Progress:           0,
		CurrentStep:        "Queued",
		CreditsCost:        cost,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, rerr := s.ledger.Refund(rctx, in.UserID, jobID, cost); rerr != nil {
			s.logger.Error().Err(rerr).Str("job_id", jobID).Int("credits", cost).Msg("jobs: refund after failed create")
		}
		s.discard(ctx, jobID, key)
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", in.UserID).
		Int("duration", in.Duration).
		Int("credits", cost).
		Msg("jobs: submitted")
	return job, nil
}

// discard removes the product image of a submission that produced no job.
func (s *Service) discard(ctx context.Context, jobID, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("key", key).Msg("jobs: remove orphaned product image")
	}
}

func normalize(in SubmitInput) (SubmitInput, string, error) {
	in.ProductName = strings.TrimSpace(in.ProductName)
	in.ProductDescription = strings.TrimSpace(in.ProductDescription)
	in.TargetAudience = strings.TrimSpace(in.TargetAudience)
	in.UGCStyle = strings.TrimSpace(in.UGCStyle)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))

	if strings.TrimSpace(in.UserID) == "" {
		return in, "", fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	if in.ProductName == "" {
		return in, "", fmt.Errorf("%w: product name is required", domain.ErrInvalidInput)
	}
	if in.Duration < MinDuration || in.Duration > MaxDuration {
		return in, "", fmt.Errorf("%w: duration must be between %d and %d seconds", domain.ErrInvalidInput, MinDuration, MaxDuration)
	}
	if len(in.Image) == 0 {
		return in, "", fmt.Errorf("%w: product image is required", domain.ErrInvalidInput)
	}
	if len(in.Image) > MaxImageBytes {
		return in, "", fmt.Errorf("%w: product image exceeds %d bytes", domain.ErrInvalidInput, MaxImageBytes)
	}
	if in.ImageContentType == "" || in.ImageContentType == "application/octet-stream" {
		in.ImageContentType = http.DetectContentType(in.Image)
	}
	if !strings.HasPrefix(strings.ToLower(in.ImageContentType), "image/") {
		return in, "", fmt.Errorf("%w: product image must be an image, got %s", domain.ErrInvalidInput, in.ImageContentType)
	}
	if in.Platform == "" {
		in.Platform = DefaultPlatform
	}
	aspect, ok := domain.AspectRatioFor(in.Platform)
	if !ok {
		return in, "", fmt.Errorf("%w: unsupported platform %q", domain.ErrInvalidInput, in.Platform)
	}
	return in, aspect, nil
}

// NewJobID returns job_<unix millis>_<8 hex>.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s", now.UnixMilli(), suffix)
}

// Get returns the caller's job. Jobs of other users are reported as missing.
func (s *Service) Get(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List returns the caller's jobs newest first. status is a coarse filter
// (pending, processing, completed, failed) or a fine-grained status.
func (s *Service) List(ctx context.Context, userID, status string, limit int) ([]domain.Job, error) {
	statuses, err := StatusFilter(status)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.jobs.List(ctx, domain.ListFilter{UserID: userID, Statuses: statuses, Limit: limit})
}

// Delete removes the caller's job permanently.
func (s *Service) Delete(ctx context.Context, userID, jobID string) error {
	if err := s.jobs.Delete(ctx, jobID, userID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Str("user_id", userID).Msg("jobs: deleted")
	return nil
}

// StatusFilter expands a gallery filter into internal statuses. The coarse
// "processing" covers every in-flight stage.
func StatusFilter(raw string) ([]domain.Status, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "", "all":
		return nil, nil
	case string(domain.StatusProcessing):
		return []domain.Status{
			domain.StatusProcessing,
			domain.StatusReadyForChar,
			domain.StatusReadyForVideo,
			domain.StatusReadyForSynthesis,
			domain.StatusReadyForAssembly,
		}, nil
	}
	s, err := domain.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return []domain.Status{s}, nil
}
