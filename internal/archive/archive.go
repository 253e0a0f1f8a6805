// Package archive exports completed sessions to an S3-compatible
// object store as NDJSON, one object per session, so long-term signal
// history can live outside the hot database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/config"
	"github.com/serenalabs/breath-engine/internal/database"
)

// SignalSource pages through a session's persisted records.
// *database.DB implements it.
type SignalSource interface {
	ListSignals(ctx context.Context, f database.SignalFilter) ([]database.StoredSignal, error)
}

// pageSize is the number of rows fetched per round trip while
// exporting.
const pageSize = 1000

// Archiver writes one NDJSON object per archived session.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	source SignalSource
	log    zerolog.Logger
}

// New builds an Archiver from config. Call HeadBucket before relying on
// it.
func New(cfg config.S3Config, source SignalSource, log zerolog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		source: source,
		log:    log.With().Str("component", "archive").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (a *Archiver) HeadBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &a.bucket,
	})
	return err
}

// ArchiveSession exports every record of the session as NDJSON.
func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string) error {
	buf, total, err := a.exportNDJSON(ctx, sessionID)
	if err != nil {
		return err
	}

	key := a.objectKey(sessionID)
	contentType := "application/x-ndjson"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put session archive %s: %w", key, err)
	}

	a.log.Info().
		Str("session_id", sessionID).
		Str("key", key).
		Int("records", total).
		Msg("session archived")
	return nil
}

// exportNDJSON pages through the session's signals and serializes them
// one JSON object per line.
func (a *Archiver) exportNDJSON(ctx context.Context, sessionID string) (*bytes.Buffer, int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	total := 0

	for offset := 0; ; offset += pageSize {
		page, err := a.source.ListSignals(ctx, database.SignalFilter{
			SessionID: sessionID,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("list session %s signals: %w", sessionID, err)
		}
		// ListSignals returns newest first; reverse each page so the
		// object reads chronologically within a page.
		for i := len(page) - 1; i >= 0; i-- {
			if err := enc.Encode(page[i].SignalRecord); err != nil {
				return nil, 0, fmt.Errorf("encode record: %w", err)
			}
		}
		total += len(page)
		if len(page) < pageSize {
			break
		}
	}
	return &buf, total, nil
}

func (a *Archiver) objectKey(sessionID string) string {
	if a.prefix == "" {
		return sessionID + ".ndjson"
	}
	return a.prefix + "/" + sessionID + ".ndjson"
}
