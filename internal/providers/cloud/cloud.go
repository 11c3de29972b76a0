package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when an archive object does not exist.
	ErrNotFound = errors.New("cloud: archive not found")
	// ErrDisabled is returned when no bucket is configured.
	ErrDisabled = errors.New("cloud: backups not configured")
	// ErrInvalidName rejects archive names that could escape the prefix.
	ErrInvalidName = errors.New("cloud: invalid archive name")
)

const (
	archivePrefix = "nexus_memory_"
	archiveExt    = ".json"
	contentType   = "application/json"
)

// Object describes one stored archive.
type Object struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Bucket is the object store holding archives.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Config configures the S3-compatible bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Minio is a Bucket on any S3-compatible endpoint.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the endpoint and creates the bucket if it is missing.
func NewMinio(ctx context.Context, cfg Config) (*Minio, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, errors.New("cloud: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("cloud: bucket lookup: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("cloud: make bucket: %w", err)
		}
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("cloud: put %s: %w", key, err)
	}
	return nil
}

func (m *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(key, err)
	}
	return data, nil
}

func (m *Minio) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("cloud: list: %w", info.Err)
		}
		out = append(out, Object{Name: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return out, nil
}

func translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("cloud: get %s: %w", key, err)
}

// Archiver stores version archives under a key prefix.
type Archiver struct {
	bucket Bucket
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewArchiver returns an archiver writing under prefix.
func NewArchiver(b Bucket, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{bucket: b, prefix: prefix, now: time.Now, logger: logger}
}

// ArchiveName is the object name for an archive taken at t.
func ArchiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format("2006-01-02T15-04-05") + archiveExt
}

// ValidName reports whether name is a plain archive file name.
func ValidName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return strings.HasSuffix(name, archiveExt)
}

// Backup uploads data as a new timestamped archive.
func (a *Archiver) Backup(ctx context.Context, data []byte) (Object, error) {
	if a == nil || a.bucket == nil {
		return Object{}, ErrDisabled
	}
	ts := a.now()
	name := ArchiveName(ts)
	if err := a.bucket.Put(ctx, a.prefix+name, data, contentType); err != nil {
		return Object{}, err
	}
	a.logger.Info("archive uploaded", zap.String("name", name), zap.Int("bytes", len(data)))
	return Object{Name: name, Size: int64(len(data)), LastModified: ts}, nil
}

// List returns stored archives, newest first.
func (a *Archiver) List(ctx context.Context) ([]Object, error) {
	if a == nil || a.bucket == nil {
		return nil, ErrDisabled
	}
	objs, err := a.bucket.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}

	out := make([]Object, 0, len(objs))
	for _, o := range objs {
		name := path.Base(strings.TrimPrefix(o.Name, a.prefix))
		if !ValidName(name) {
			continue
		}
		o.Name = name
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Fetch downloads the archive called name.
func (a *Archiver) Fetch(ctx context.Context, name string) ([]byte, error) {
	if a == nil || a.bucket == nil {
		return nil, ErrDisabled
	}
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	return a.bucket.Get(ctx, a.prefix+name)
}
