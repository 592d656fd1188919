// Package app assembles the SmartPlant stores and services from configuration.
// The API server, the sweep worker and plantctl all build through it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/smartplant/internal/audit"
	"github.com/onnwee/smartplant/internal/cloud"
	"github.com/onnwee/smartplant/internal/config"
	"github.com/onnwee/smartplant/internal/curation"
	"github.com/onnwee/smartplant/internal/db"
	"github.com/onnwee/smartplant/internal/heatmap"
	"github.com/onnwee/smartplant/internal/identify"
	"github.com/onnwee/smartplant/internal/jobs"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/onnwee/smartplant/internal/taxonomy"
	"github.com/onnwee/smartplant/internal/upload"
)

// Metrics groups every collector set the service exposes.
type Metrics struct {
	HTTP     *middleware.Metrics
	Upload   *upload.Metrics
	Identify *identify.Metrics
	Taxonomy *taxonomy.Metrics
	Heatmap  *heatmap.Metrics
	Curation *curation.Metrics
	Jobs     *jobs.Metrics
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTP:     middleware.NewMetrics(),
		Upload:   upload.NewMetrics(),
		Identify: identify.NewMetrics(),
		Taxonomy: taxonomy.NewMetrics(),
		Heatmap:  heatmap.NewMetrics(),
		Curation: curation.NewMetrics(),
		Jobs:     jobs.NewMetrics(),
	}
}

// Register registers every collector set with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for name, r := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"http":     m.HTTP,
		"upload":   m.Upload,
		"identify": m.Identify,
		"taxonomy": m.Taxonomy,
		"heatmap":  m.Heatmap,
		"curation": m.Curation,
		"jobs":     m.Jobs,
	} {
		if err := r.Register(reg); err != nil {
			return fmt.Errorf("failed to register %s metrics: %w", name, err)
		}
	}
	return nil
}

// Stores holds the repositories selected by STORE_BACKEND.
type Stores struct {
	Backend   string
	Sightings sighting.Repository
	Audit     audit.Repository
	Reviews   curation.ReviewRepository
	Feedback  curation.FeedbackRepository

	// DB is the Postgres pool when one is configured, otherwise nil.
	DB *sql.DB
	// Dynamo is the DynamoDB client under the dynamodb backend, otherwise nil.
	Dynamo *dynamodb.Client
}

// Close releases the database pool, if any.
func (s *Stores) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// AWS holds the clients built from the AWS settings.
type AWS struct {
	S3     *s3.Client
	Dynamo *dynamodb.Client
}

// NewAWS resolves credentials and builds the S3 and DynamoDB clients.
func NewAWS(ctx context.Context, cfg *config.Config) (*AWS, error) {
	opts := cloud.Options{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		S3Endpoint:      cfg.S3Endpoint,
		DynamoEndpoint:  cfg.DynamoEndpoint,
	}
	awsCfg, err := cloud.LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &AWS{
		S3:     cloud.NewS3Client(awsCfg, opts),
		Dynamo: cloud.NewDynamoClient(awsCfg, opts),
	}, nil
}

// OpenStores selects the repositories for cfg.StoreBackend. Under dynamodb,
// audit and curation records go to Postgres when DATABASE_URL is set and stay
// in memory otherwise.
func OpenStores(ctx context.Context, cfg *config.Config, clients *AWS, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := &Stores{Backend: cfg.StoreBackend}

	if cfg.DatabaseURL != "" && cfg.StoreBackend != config.StoreMemory {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Verify(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		st.DB = conn
	}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		st.Sightings = sighting.NewPostgresRepository(st.DB)
	case config.StoreDynamoDB:
		if clients == nil {
			return nil, fmt.Errorf("dynamodb backend requires AWS clients")
		}
		st.Dynamo = clients.Dynamo
		st.Sightings = sighting.NewDynamoRepository(clients.Dynamo, cfg.DynamoTable, cfg.DynamoKeyTable)
	default:
		st.Sightings = sighting.NewInMemoryRepository()
	}

	if st.DB != nil {
		st.Audit = audit.NewPostgresRepository(st.DB)
		st.Reviews = curation.NewPostgresReviewRepository(st.DB)
		st.Feedback = curation.NewPostgresFeedbackRepository(st.DB)
	} else {
		st.Audit = audit.NewInMemoryRepository()
		st.Reviews = curation.NewInMemoryReviewRepository()
		st.Feedback = curation.NewInMemoryFeedbackRepository()
	}

	logger.Info("stores opened",
		slog.String("backend", st.Backend),
		slog.Bool("postgres", st.DB != nil))
	return st, nil
}

// NewRedis parses cfg.RedisURL. It returns nil when Redis is not configured.
func NewRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// LoadCatalog returns the override catalog at cfg.TaxonomyPath or the embedded one.
func LoadCatalog(cfg *config.Config) (*taxonomy.Catalog, error) {
	if cfg.TaxonomyPath != "" {
		return taxonomy.LoadCatalog(cfg.TaxonomyPath)
	}
	return taxonomy.DefaultCatalog()
}

// Services are the pipeline services built over Stores.
type Services struct {
	Tickets  *upload.Service
	Identify *identify.Handler
	Engine   *sighting.Engine
	History  *sighting.HistoryStore
	Heatmaps *heatmap.Service
	Queue    *curation.Queue
	Feedback *curation.FeedbackService
	Sweeper  *upload.OrphanSweeper
}

// NewServices wires the pipeline. identifier overrides the HTTP classifier
// client when non-nil.
func NewServices(cfg *config.Config, st *Stores, clients *AWS, identifier identify.Identifier, m *Metrics, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = NewMetrics()
	}

	tickets, err := upload.NewService(upload.ServiceConfig{
		Bucket:    cfg.S3Bucket,
		TicketTTL: cfg.TicketTTL,
		Presigner: s3.NewPresignClient(clients.S3),
		Metrics:   m.Upload,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket service: %w", err)
	}

	if identifier == nil {
		identifier, err = identify.NewHTTPClient(identify.ClientConfig{
			BaseURL: cfg.IdentifyURL,
			Timeout: cfg.IdentifyTimeout,
			Metrics: m.Identify,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create identification client: %w", err)
		}
	}

	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy catalog: %w", err)
	}
	resolver := taxonomy.NewCachedResolver(
		taxonomy.NewResolver(catalog, taxonomy.WithMetrics(m.Taxonomy), taxonomy.WithLogger(logger)),
		taxonomy.DefaultCacheTTL, m.Taxonomy)

	engine := sighting.NewEngine(st.Sightings, st.Audit, logger)
	return &Services{
		Tickets: tickets,
		Identify: identify.NewHandler(identify.HandlerConfig{
			Identifier: identifier,
			Resolver:   resolver,
			Repository: st.Sightings,
			Bucket:     cfg.S3Bucket,
			Metrics:    m.Identify,
			Logger:     logger,
		}),
		Engine:   engine,
		History:  sighting.NewHistoryStore(st.Sightings),
		Heatmaps: heatmap.NewService(engine, m.Heatmap, logger),
		Queue: curation.NewQueue(curation.QueueConfig{
			Sightings: st.Sightings,
			Reviews:   st.Reviews,
			Audit:     st.Audit,
			Metrics:   m.Curation,
			Logger:    logger,
		}),
		Feedback: curation.NewFeedbackService(st.Sightings, st.Feedback, m.Curation, logger),
		Sweeper: upload.NewOrphanSweeper(upload.SweeperConfig{
			Store:   clients.S3,
			Index:   st.Sightings,
			Bucket:  cfg.S3Bucket,
			DryRun:  cfg.SweepDryRun,
			Metrics: m.Upload,
			Logger:  logger,
		}),
	}, nil
}
