// Package upload issues single-use presigned tickets for direct object
// uploads and drives a submission from upload through identification.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/smartplant/internal/sighting"
)

// Accepted MIME types for plant images.
const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
	MIMEImageWEBP = "image/webp"
	MIMEImageHEIC = "image/heic"
)

// KeyPrefix is the object key prefix for plant uploads.
const KeyPrefix = sighting.ImageKeyPrefix

// DefaultTicketTTL is how long a presigned ticket stays valid.
const DefaultTicketTTL = 300 * time.Second

// Errors returned by ticket issuance.
var (
	// ErrTicketIssuanceFailed wraps every presign or validation failure.
	ErrTicketIssuanceFailed = errors.New("ticket issuance failed")
	ErrUnsupportedType      = errors.New("unsupported content type")
	ErrInvalidOwner         = errors.New("invalid owner id")
)

// AllowedMIMETypes maps accepted MIME types to their file extensions.
var AllowedMIMETypes = map[string]string{
	MIMEImageJPEG: "jpg",
	MIMEImagePNG:  "png",
	MIMEImageWEBP: "webp",
	MIMEImageHEIC: "heic",
}

// Presigner is the subset of s3.PresignClient used to sign tickets.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ServiceConfig holds configuration for the ticket service.
type ServiceConfig struct {
	Bucket    string
	TicketTTL time.Duration // Default: 300s
	Presigner Presigner
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Service issues presigned upload tickets.
type Service struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
	metrics   *Metrics
	logger    *slog.Logger
	timeNow   func() time.Time // For testability
}

// NewService creates a ticket service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Presigner == nil {
		return nil, errors.New("presigner is required")
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = DefaultTicketTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		presigner: cfg.Presigner,
		bucket:    cfg.Bucket,
		ttl:       cfg.TicketTTL,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		timeNow:   time.Now,
	}, nil
}

// Bucket returns the bucket tickets are issued for.
func (s *Service) Bucket() string {
	return s.bucket
}

// NormalizeContentType lowercases a MIME type and strips any parameters.
func NormalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// ValidateContentType checks if the content type is accepted.
func ValidateContentType(contentType string) error {
	if _, ok := AllowedMIMETypes[NormalizeContentType(contentType)]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// GenerateObjectKey creates the object key for an upload.
// Pattern: plants/{ownerId}/{unix-ms}.{ext}
func GenerateObjectKey(ownerID, contentType string, now time.Time) (string, error) {
	ext, ok := AllowedMIMETypes[NormalizeContentType(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}
	prefix := sighting.OwnerKeyPrefix(ownerID)
	if prefix == "" {
		return "", ErrInvalidOwner
	}
	return fmt.Sprintf("%s%d.%s", prefix, now.UnixMilli(), ext), nil
}

// RequestTicket presigns a PUT for a fresh object key owned by ownerID.
// Every failure wraps ErrTicketIssuanceFailed.
func (s *Service) RequestTicket(ctx context.Context, ownerID, contentType string) (*Ticket, error) {
	ticket, err := s.requestTicket(ctx, ownerID, contentType)
	if s.metrics != nil {
		s.metrics.IncTickets(err == nil)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "ticket issuance failed",
			slog.String("owner_id", ownerID),
			slog.String("content_type", contentType),
			slog.String("error", err.Error()))
		return nil, err
	}
	s.logger.DebugContext(ctx, "ticket issued",
		slog.String("object_key", ticket.ObjectKey),
		slog.Time("expires_at", ticket.ExpiresAt))
	return ticket, nil
}

func (s *Service) requestTicket(ctx context.Context, ownerID, contentType string) (*Ticket, error) {
	now := s.timeNow().UTC()
	key, err := GenerateObjectKey(ownerID, contentType, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTicketIssuanceFailed, err)
	}
	normalized := NormalizeContentType(contentType)

	presigned, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(normalized),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to presign request: %v", ErrTicketIssuanceFailed, err)
	}

	return &Ticket{
		ObjectKey:   key,
		UploadURL:   presigned.URL,
		ContentType: normalized,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}, nil
}
