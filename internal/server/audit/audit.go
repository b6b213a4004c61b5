// Package audit archives the end of every server session. Events go to an
// S3 bucket as one JSON object each; without a bucket they are dropped.
package audit

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
	"github.com/google/uuid"
)

// Event describes how a session ended.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Archive stores session events.
type Archive interface {
	Archive(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Archive(context.Context, Event) error { return nil }

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config names the bucket and how to reach it.
type S3Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	BaseEndpoint string
}

// S3Archive writes each event to <bucket>/sessions/YYYY/MM/DD/<id>.json.
type S3Archive struct {
	client putObjectAPI
	bucket string
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Archive builds an archive with static credentials. A non-empty
// BaseEndpoint selects an S3-compatible store addressed path-style.
func NewS3Archive(ctx context.Context, c S3Config) (*S3Archive, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archive{client: client, bucket: c.Bucket}, nil
}

// ObjectKey is where e is stored within the bucket.
func ObjectKey(e Event) string {
	at := e.At.UTC()
	return fmt.Sprintf("sessions/%d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), e.ID)
}

// Archive uploads e, assigning it a random id first if it has none.
func (a *S3Archive) Archive(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(e)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive session %s: %w", e.SessionID, err)
	}
	return nil
}
