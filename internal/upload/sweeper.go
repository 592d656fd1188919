package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultSweepGrace is the minimum object age before it can be swept.
const DefaultSweepGrace = 24 * time.Hour

// ObjectStore is the subset of the S3 client used by the sweeper.
type ObjectStore interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// KeyIndex reports whether a sighting references an object key.
type KeyIndex interface {
	ExistsByImageKey(ctx context.Context, key string) (bool, error)
}

// SweepResult counts what a sweep saw and did.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Referenced int `json:"referenced"`
	TooRecent  int `json:"too_recent"`
	Orphaned   int `json:"orphaned"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
}

// OrphanSweeper deletes uploads that never became a sighting.
type OrphanSweeper struct {
	store   ObjectStore
	index   KeyIndex
	bucket  string
	dryRun  bool
	metrics *Metrics
	logger  *slog.Logger
	timeNow func() time.Time
}

// SweeperConfig configures an OrphanSweeper.
type SweeperConfig struct {
	Store  ObjectStore
	Index  KeyIndex
	Bucket string
	// DryRun counts orphans without deleting them.
	DryRun  bool
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewOrphanSweeper creates a sweeper.
func NewOrphanSweeper(cfg SweeperConfig) *OrphanSweeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OrphanSweeper{
		store:   cfg.Store,
		index:   cfg.Index,
		bucket:  cfg.Bucket,
		dryRun:  cfg.DryRun,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		timeNow: time.Now,
	}
}

// SweepOptions overrides sweeper settings for one run.
type SweepOptions struct {
	OlderThan time.Duration
	// DryRun forces a dry run even when the sweeper deletes by default.
	DryRun bool
}

// Sweep lists every object under KeyPrefix and deletes those older than
// olderThan that no sighting references. Individual delete failures are
// counted, not returned; listing or index errors abort the sweep.
func (s *OrphanSweeper) Sweep(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	return s.Run(ctx, SweepOptions{OlderThan: olderThan})
}

// Run is Sweep with per-run options.
func (s *OrphanSweeper) Run(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	olderThan := opts.OlderThan
	dryRun := s.dryRun || opts.DryRun
	if olderThan <= 0 {
		olderThan = DefaultSweepGrace
	}
	cutoff := s.timeNow().Add(-olderThan)

	var result SweepResult
	paginator := s3.NewListObjectsV2Paginator(s.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(KeyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list uploads: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			result.Scanned++

			if obj.LastModified != nil && obj.LastModified.After(cutoff) {
				result.TooRecent++
				continue
			}

			referenced, err := s.index.ExistsByImageKey(ctx, key)
			if err != nil {
				return result, fmt.Errorf("failed to check key %s: %w", key, err)
			}
			if referenced {
				result.Referenced++
				continue
			}

			result.Orphaned++
			if dryRun {
				continue
			}
			if _, err := s.store.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			}); err != nil {
				result.Failed++
				s.logger.WarnContext(ctx, "failed to delete orphaned upload",
					slog.String("object_key", key),
					slog.String("error", err.Error()))
				continue
			}
			result.Deleted++
		}
	}

	if s.metrics != nil {
		s.metrics.AddOrphansDeleted(result.Deleted)
	}
	s.logger.InfoContext(ctx, "orphan sweep completed",
		slog.Int("scanned", result.Scanned),
		slog.Int("referenced", result.Referenced),
		slog.Int("too_recent", result.TooRecent),
		slog.Int("orphaned", result.Orphaned),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed),
		slog.Bool("dry_run", dryRun))
	return result, nil
}
