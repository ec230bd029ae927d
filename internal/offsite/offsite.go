// Package offsite copies backup artifacts and the catalog database to
// S3-compatible storage, optionally encrypted with an age passphrase.
package offsite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
)

const (
	archiveExt   = ".tar.gz"
	encryptedExt = ".age"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
}

// Enabled reports whether enough is configured to upload anything.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Uploader struct {
	cfg    Config
	client s3Client
	logger *slog.Logger
	tmpDir string

	// workFactor overrides age's scrypt cost when non-zero.
	workFactor int
}

func New(cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		cfg:    cfg,
		client: newS3Client(cfg),
		logger: logger.With("component", "offsite"),
	}
}

func newS3Client(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Encrypted reports whether uploads are age-encrypted.
func (u *Uploader) Encrypted() bool {
	return u.cfg.Passphrase != ""
}

func (u *Uploader) objectKey(name, ext string) string {
	key := name + ext
	if u.Encrypted() {
		key += encryptedExt
	}
	if u.cfg.Prefix != "" {
		key = path.Join(u.cfg.Prefix, key)
	}
	return key
}

// Upload archives artifactDir as a gzipped tarball, encrypts it when a
// passphrase is configured and stores it under name. It returns the object
// key.
func (u *Uploader) Upload(ctx context.Context, artifactDir, name string) (string, error) {
	key := u.objectKey(name, archiveExt)
	err := u.put(ctx, key, func(w io.Writer) error {
		return writeArchive(ctx, artifactDir, w)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// SnapshotDatabase checkpoints the WAL and uploads a gzipped copy of the
// catalog database file.
func (u *Uploader) SnapshotDatabase(ctx context.Context, db *sql.DB, dbPath string) (string, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("wal checkpoint: %w", err)
	}

	name := "catalog/hostvault-" + time.Now().UTC().Format("2006-01-02T150405Z")
	key := u.objectKey(name, ".db.gz")
	err := u.put(ctx, key, func(w io.Writer) error {
		return writeGzipFile(dbPath, w)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// put spools the payload to a temp file so the upload has a known length.
func (u *Uploader) put(ctx context.Context, key string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(u.tmpDir, "hostvault-offsite-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := u.encode(tmp, write); err != nil {
		return err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}

	start := time.Now()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}

	u.logger.Info("object uploaded",
		"key", key,
		"size", humanize.IBytes(uint64(size)),
		"encrypted", u.Encrypted(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (u *Uploader) encode(w io.Writer, write func(io.Writer) error) error {
	if !u.Encrypted() {
		return write(w)
	}

	recipient, err := age.NewScryptRecipient(u.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("age recipient: %w", err)
	}
	if u.workFactor > 0 {
		recipient.SetWorkFactor(u.workFactor)
	}
	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("initialize age encryption: %w", err)
	}
	if err := write(enc); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish age encryption: %w", err)
	}
	return nil
}

// Download streams an object back, decrypting it when its key says it was
// encrypted. The caller must close the returned reader.
func (u *Uploader) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	if !strings.HasSuffix(key, encryptedExt) {
		return out.Body, nil
	}

	if u.cfg.Passphrase == "" {
		out.Body.Close()
		return nil, fmt.Errorf("object %s is encrypted but no passphrase is configured", key)
	}
	identity, err := age.NewScryptIdentity(u.cfg.Passphrase)
	if err != nil {
		out.Body.Close()
		return nil, fmt.Errorf("age identity: %w", err)
	}
	r, err := age.Decrypt(out.Body, identity)
	if err != nil {
		out.Body.Close()
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return readCloser{Reader: r, Closer: out.Body}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// PlainName returns the filename a downloaded object should be saved as,
// without the encryption suffix.
func PlainName(key string) string {
	return strings.TrimSuffix(path.Base(key), encryptedExt)
}
