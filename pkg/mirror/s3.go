package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"igarchive/pkg/logger"
)

// deleteBatch is the DeleteObjects per-request key limit
const deleteBatch = 1000

// S3API is the subset of *s3.Client the backend needs
type S3API interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// NewS3Client loads the default AWS configuration chain. Static keys from
// IGARCHIVE_S3_ACCESS_KEY_ID and IGARCHIVE_S3_SECRET_ACCESS_KEY take
// precedence; a custom endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if id, secret := os.Getenv("IGARCHIVE_S3_ACCESS_KEY_ID"), os.Getenv("IGARCHIVE_S3_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, os.Getenv("IGARCHIVE_S3_SESSION_TOKEN")),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Backend mirrors a directory tree to s3://bucket/prefix natively.
// Objects are compared by size and modification time.
type S3Backend struct {
	client     S3API
	uploader   *manager.Uploader
	downloader *manager.Downloader
	merge      bool
	logger     logger.Logger
}

// NewS3Backend wraps client. With merge set, deletions never propagate.
func NewS3Backend(client S3API, merge bool, log logger.Logger) *S3Backend {
	if log == nil {
		log = logger.GetLogger()
	}
	return &S3Backend{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		merge:      merge,
		logger:     log,
	}
}

func (b *S3Backend) Name() string { return "s3" }

type fileState struct {
	size    int64
	modTime time.Time
}

func (b *S3Backend) Push(ctx context.Context, localDir, remote string) error {
	loc, err := parseS3(remote)
	if err != nil {
		return err
	}
	local, err := walkLocal(localDir)
	if err != nil {
		return err
	}
	objects, err := b.list(ctx, loc)
	if err != nil {
		return err
	}

	uploaded := 0
	for _, rel := range sortedKeys(local) {
		lf := local[rel]
		if obj, ok := objects[rel]; ok && obj.size == lf.size && !lf.modTime.After(obj.modTime) {
			continue
		}
		if err := b.upload(ctx, loc, localDir, rel); err != nil {
			return err
		}
		uploaded++
	}

	var stale []string
	if !b.merge {
		for _, rel := range sortedKeys(objects) {
			if _, ok := local[rel]; !ok {
				stale = append(stale, objectKey(loc.Prefix, rel))
			}
		}
		if err := b.deleteKeys(ctx, loc.Bucket, stale); err != nil {
			return err
		}
	}

	b.logger.InfoWithFields("s3 push complete", map[string]interface{}{
		"bucket":   loc.Bucket,
		"prefix":   loc.Prefix,
		"uploaded": uploaded,
		"deleted":  len(stale),
	})
	return nil
}

func (b *S3Backend) Pull(ctx context.Context, remote, localDir string) error {
	loc, err := parseS3(remote)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localDir, err)
	}
	objects, err := b.list(ctx, loc)
	if err != nil {
		return err
	}
	local, err := walkLocal(localDir)
	if err != nil {
		return err
	}

	downloaded := 0
	for _, rel := range sortedKeys(objects) {
		obj := objects[rel]
		if lf, ok := local[rel]; ok && lf.size == obj.size && !obj.modTime.After(lf.modTime) {
			continue
		}
		if err := b.download(ctx, loc, rel, obj, localDir); err != nil {
			return err
		}
		downloaded++
	}

	removed := 0
	if !b.merge {
		for _, rel := range sortedKeys(local) {
			if _, ok := objects[rel]; ok {
				continue
			}
			if err := os.Remove(filepath.Join(localDir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", rel, err)
			}
			removed++
		}
	}

	b.logger.InfoWithFields("s3 pull complete", map[string]interface{}{
		"bucket":     loc.Bucket,
		"prefix":     loc.Prefix,
		"downloaded": downloaded,
		"removed":    removed,
	})
	return nil
}

func parseS3(remote string) (Remote, error) {
	loc, err := ParseRemote(remote)
	if err != nil {
		return Remote{}, err
	}
	if loc.Scheme != "s3" {
		return Remote{}, fmt.Errorf("not an s3 remote: %q", remote)
	}
	return loc, nil
}

func (b *S3Backend) list(ctx context.Context, loc Remote) (map[string]fileState, error) {
	listPrefix := ""
	if loc.Prefix != "" {
		listPrefix = loc.Prefix + "/"
	}

	out := map[string]fileState{}
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(listPrefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", loc.Bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if rel == "" || strings.HasSuffix(rel, "/") || isTempFile(path.Base(rel)) {
				continue
			}
			out[rel] = fileState{size: aws.ToInt64(obj.Size), modTime: aws.ToTime(obj.LastModified)}
		}
	}
	return out, nil
}

func (b *S3Backend) upload(ctx context.Context, loc Remote, localDir, rel string) error {
	f, err := os.Open(filepath.Join(localDir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer f.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(objectKey(loc.Prefix, rel)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", rel, err)
	}
	return nil
}

func (b *S3Backend) download(ctx context.Context, loc Remote, rel string, obj fileState, localDir string) error {
	dst := filepath.Join(localDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	// The downloader cannot size an empty object without a range error.
	if obj.size > 0 {
		_, err = b.downloader.Download(ctx, tmp, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(objectKey(loc.Prefix, rel)),
		})
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("downloading %s: %w", rel, err)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", rel, err)
	}
	if !obj.modTime.IsZero() {
		_ = os.Chtimes(dst, obj.modTime, obj.modTime)
	}
	return nil
}

func (b *S3Backend) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting stale objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("deleting %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// walkLocal maps slash-separated relative paths of regular files under dir
// to their state. A missing dir is empty.
func walkLocal(dir string) (map[string]fileState, error) {
	out := map[string]fileState{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = fileState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return out, nil
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

func objectKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

func sortedKeys(m map[string]fileState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
