package minio

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// RuleObjectStore reads and publishes rule tables under a bucket prefix.
// It is a rules.Source.
type RuleObjectStore struct {
	client *Client
	bucket string
	prefix string
	logger logging.Logger
}

var _ rules.Source = (*RuleObjectStore)(nil)

// NewRuleObjectStore serves tables from bucket/prefix.
func NewRuleObjectStore(client *Client, bucket, prefix string, log logging.Logger) *RuleObjectStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	prefix = strings.Trim(prefix, "/")
	return &RuleObjectStore{client: client, bucket: bucket, prefix: prefix, logger: log}
}

func (s *RuleObjectStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *RuleObjectStore) Describe() string {
	if s.prefix == "" {
		return "minio://" + s.bucket
	}
	return "minio://" + s.bucket + "/" + s.prefix
}

// isNotFound reports whether err is a missing bucket or key.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

// Open fetches one table. A missing object wraps fs.ErrNotExist. The object
// is stat'ed first because GetObject defers errors until the first read.
func (s *RuleObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	api, err := s.client.API()
	if err != nil {
		return nil, err
	}
	key := s.objectName(name)
	if _, err := api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, fs.ErrNotExist)
		}
		return nil, errors.Wrapf(err, errors.ErrCodeStorageError, "stat %s/%s", s.bucket, key)
	}
	rc, err := api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeStorageError, "get %s/%s", s.bucket, key)
	}
	return rc, nil
}

// TableInfo describes one stored rule table.
type TableInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

// List returns the tables stored under the prefix, sorted by name.
func (s *RuleObjectStore) List(ctx context.Context) ([]TableInfo, error) {
	api, err := s.client.API()
	if err != nil {
		return nil, err
	}
	listPrefix := s.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	var out []TableInfo
	for obj := range api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, errors.ErrCodeStorageError, "list %s", s.Describe())
		}
		out = append(out, TableInfo{
			Name: strings.TrimPrefix(obj.Key, listPrefix),
			Size: obj.Size,
			ETag: obj.ETag,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Put uploads one table from r.
func (s *RuleObjectStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	api, err := s.client.API()
	if err != nil {
		return err
	}
	key := s.objectName(name)
	_, err = api.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType(name)})
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorageError, "put %s/%s", s.bucket, key)
	}
	s.logger.Info("Uploaded rule table", logging.String("bucket", s.bucket), logging.String("key", key), logging.Int64("size", size))
	return nil
}

// Publish uploads the named files from dir. Files that do not exist locally
// are skipped; the uploaded names are returned.
func (s *RuleObjectStore) Publish(ctx context.Context, dir string, names ...string) ([]string, error) {
	if err := s.client.EnsureBucket(ctx, s.bucket); err != nil {
		return nil, err
	}
	var published []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := s.publishFile(ctx, filepath.Join(dir, name), name); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Rule table not found locally; skipping", logging.String("file", name))
				continue
			}
			return published, err
		}
		published = append(published, name)
	}
	return published, nil
}

func (s *RuleObjectStore) publishFile(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return s.Put(ctx, name, f, st.Size())
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/octet-stream"
}
