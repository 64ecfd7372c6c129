// Package archive ships finished-call records to S3-compatible object
// storage. Archival is best effort: the caller logs failures and moves on,
// the database row remains the source of truth.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mhertel/voxgate/app/models"
)

// Client wraps the S3 client with call-archive functionality
type Client struct {
	s3Client *s3.Client
	config   *Config
}

// NewClient creates a new archive client.
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("call archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services want path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := &Client{
		s3Client: s3Client,
		config:   cfg,
	}

	if err := client.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Initialized call archive for bucket: %s", cfg.BucketName)
	return client, nil
}

func (c *Client) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.BucketName),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", c.config.BucketName, err)
	}
	return nil
}

// callRecord is the archived JSON document for one finished call.
type callRecord struct {
	ExternalCallID  string     `json:"external_call_id"`
	AssistantID     uint       `json:"assistant_id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Cost            float64    `json:"cost"`
	EndedReason     string     `json:"ended_reason,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	ArchivedAt      time.Time  `json:"archived_at"`
}

// ArchiveCall uploads a finished call as a JSON object.
func (c *Client) ArchiveCall(ctx context.Context, call *models.Call) error {
	record := callRecord{
		ExternalCallID:  call.ExternalCallID,
		AssistantID:     call.AssistantID,
		Status:          call.Status,
		StartedAt:       call.StartedAt,
		EndedAt:         call.EndedAt,
		DurationSeconds: call.DurationSeconds,
		Cost:            call.Cost,
		EndedReason:     call.EndedReason,
		RecordingURL:    call.RecordingURL,
		Transcript:      call.Transcript,
		ArchivedAt:      time.Now().UTC(),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	endedAt := record.ArchivedAt
	if call.EndedAt != nil {
		endedAt = *call.EndedAt
	}
	key := c.config.ObjectKey(call.ExternalCallID, endedAt)

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload call %s: %w", call.ExternalCallID, err)
	}

	log.Debugf("[Archive] Archived call %s to %s", call.ExternalCallID, key)
	return nil
}
