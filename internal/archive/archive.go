// Package archive keeps copies of paid invoice documents in S3-compatible
// storage. The gateway hosts invoices itself, but only for as long as the
// account exists there; the archive is our own durable record.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Archiver struct {
	cfg        S3Config
	client     s3Client
	httpClient *http.Client
}

type Option func(*Archiver)

func WithS3Client(c s3Client) Option {
	return func(a *Archiver) {
		a.client = c
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Archiver) {
		a.httpClient = c
	}
}

// New creates an archiver. Returns nil when storage is not configured, so
// callers can treat archival as an optional collaborator.
func New(cfg S3Config, opts ...Option) *Archiver {
	a := &Archiver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil
		}
		a.client = newS3Client(cfg)
	}
	return a
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// StoreInvoice downloads the invoice PDF and uploads it to the bucket under
// a per-account prefix.
func (a *Archiver) StoreInvoice(ctx context.Context, accountID int64, invoiceID, pdfURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download invoice pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download invoice pdf: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read invoice pdf: %w", err)
	}

	key := fmt.Sprintf("invoices/%d/%s.pdf", accountID, invoiceID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("upload invoice pdf: %w", err)
	}
	return nil
}
