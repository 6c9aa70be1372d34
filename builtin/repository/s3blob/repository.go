// Package s3blob persists semantic models as JSON objects in an S3
// bucket (or any S3-compatible store).
package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spetr/semindex/pkg/envelope"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

type uploaderAPI interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type downloaderAPI interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Repository stores each model under a key prefix: the index document
// at the prefix root, one object per entity in per-kind folders. The
// logical layout matches the localdisk strategy with /-joined keys.
type Repository struct {
	client     objectAPI
	uploader   uploaderAPI
	downloader downloaderAPI
	bucket     string
	prefix     string

	// Guards read-modify-write of the model index object within this
	// process.
	mu sync.Mutex
}

// New creates an S3-backed repository. Credentials come from the AWS
// default chain unless static keys are configured; a custom endpoint
// switches to path-style addressing for S3-compatible stores.
func New(config provider.RepositoryConfig) (*Repository, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("%w: s3blob repository requires a bucket", types.ErrInvalidConfig)
	}

	var options []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		options = append(options, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}
	if config.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               config.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     region,
			}, nil
		})
		options = append(options, awsconfig.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Options...)

	return &Repository{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     config.Bucket,
		prefix:     strings.Trim(config.Prefix, "/"),
	}, nil
}

// Name returns the strategy name.
func (r *Repository) Name() string {
	return "s3blob"
}

func (r *Repository) key(parts ...string) string {
	all := append([]string{r.prefix}, parts...)
	return strings.TrimPrefix(path.Join(all...), "/")
}

// SaveModel uploads every entity object first and the index object
// last, so a reader that finds the index finds complete objects.
func (r *Repository) SaveModel(ctx context.Context, model *types.SemanticModel, location string) error {
	if model == nil {
		return fmt.Errorf("%w: model is nil", types.ErrStoreFailed)
	}
	if err := model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreFailed, err)
	}

	for _, e := range model.AllEntities() {
		if err := r.putEntity(ctx, location, e, nil); err != nil {
			return err
		}
	}
	return r.putIndex(ctx, location, envelope.BuildModelIndex(model))
}

// LoadModel downloads the index object and every entity it references.
func (r *Repository) LoadModel(ctx context.Context, location string) (*types.SemanticModel, error) {
	idx, err := r.getIndex(ctx, location)
	if err != nil {
		return nil, err
	}

	model := &types.SemanticModel{
		Name:          idx.Name,
		Source:        idx.Source,
		Description:   idx.Description,
		SchemaVersion: idx.SchemaVersion,
	}

	for _, kr := range idx.Refs() {
		raw, err := r.download(ctx, r.key(location, kr.Ref.Path))
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: index references missing object %s", types.ErrCorruptData, kr.Ref.Path)
			}
			return nil, fmt.Errorf("download entity %s: %w", kr.Ref.Path, err)
		}
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", kr.Ref.Path, err)
		}
		entity := env.Data
		entity.Kind = kr.Kind
		if err := model.Attach(entity); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %v", types.ErrCorruptData, kr.Ref.Path, err)
		}
	}

	return model, nil
}

// Exists reports whether a model index object is present at location.
func (r *Repository) Exists(ctx context.Context, location string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(location, envelope.ModelIndexFile)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListModels lists the model prefixes directly under root using the
// bucket delimiter, keeping only those with an index object.
func (r *Repository) ListModels(ctx context.Context, root string) ([]string, error) {
	base := r.key(root)
	if base != "" {
		base += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(r.bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	}

	var models []string
	paginator := s3.NewListObjectsV2Paginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, base), "/")
			if name == "" {
				continue
			}
			ok, err := r.Exists(ctx, path.Join(root, name))
			if err != nil {
				return nil, err
			}
			if ok {
				models = append(models, name)
			}
		}
	}
	return models, nil
}

// DeleteModel removes every object under the model prefix. A prefix
// without an index object is left untouched; deleting an absent model
// is not an error.
func (r *Repository) DeleteModel(ctx context.Context, location string) error {
	ok, err := r.Exists(ctx, location)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.key(location) + "/"),
	}

	paginator := s3.NewListObjectsV2Paginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("%w: delete %s: %v", types.ErrStoreFailed, *obj.Key, err)
			}
		}
	}
	return nil
}

// SaveEntity uploads one entity object, wrapped with the embedding
// payload when one is present, and registers the entity in the index
// object if it is not listed yet.
func (r *Repository) SaveEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	if entity == nil || entity.Name == "" {
		return fmt.Errorf("%w: entity has no name", types.ErrStoreFailed)
	}
	if err := r.putEntity(ctx, location, entity, payload); err != nil {
		return err
	}
	return r.registerEntity(ctx, location, entity)
}

// LoadEntityContent returns the unwrapped entity JSON at entityPath, or
// ("", nil) when no object is stored there.
func (r *Repository) LoadEntityContent(ctx context.Context, location, entityPath string) (string, error) {
	raw, err := r.download(ctx, r.key(location, entityPath))
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}

	env, err := envelope.Unmarshal(raw)
	if err != nil {
		return "", err
	}
	return envelope.EntityJSON(env)
}

// LoadEntityEnvelope downloads the persisted envelope for one entity.
func (r *Repository) LoadEntityEnvelope(ctx context.Context, location string, kind types.EntityKind, schema, name string) (*types.PersistedEntityEnvelope, error) {
	raw, err := r.download(ctx, r.key(location, envelope.EntityRelPath(kind, schema, name)))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: entity %s %s.%s", types.ErrNotFound, kind, schema, name)
		}
		return nil, err
	}
	return envelope.Unmarshal(raw)
}

// CheckVectorExists returns the content hash stored with the entity's
// embedding. Only the embedding metadata is decoded; an object that
// does not parse as an envelope counts as having no embedding.
func (r *Repository) CheckVectorExists(ctx context.Context, kind types.EntityKind, schema, name, location string) (string, error) {
	raw, err := r.download(ctx, r.key(location, envelope.EntityRelPath(kind, schema, name)))
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}

	var probe struct {
		Embedding *struct {
			Metadata *types.EmbeddingMetadata `json:"metadata"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", nil
	}
	if probe.Embedding == nil || probe.Embedding.Metadata == nil {
		return "", nil
	}
	return probe.Embedding.Metadata.ContentHash, nil
}

// Close releases nothing; the SDK client holds no persistent state.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) putEntity(ctx context.Context, location string, entity *types.Entity, payload *types.EmbeddingPayload) error {
	raw, err := envelope.Marshal(envelope.Wrap(entity, payload))
	if err != nil {
		return err
	}
	relPath := envelope.EntityRelPath(entity.Kind, entity.Schema, entity.Name)
	if err := r.upload(ctx, r.key(location, relPath), raw); err != nil {
		return fmt.Errorf("%w: upload entity %s: %v", types.ErrStoreFailed, relPath, err)
	}
	return nil
}

func (r *Repository) registerEntity(ctx context.Context, location string, entity *types.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.getIndex(ctx, location)
	if err != nil {
		return err
	}

	relPath := envelope.EntityRelPath(entity.Kind, entity.Schema, entity.Name)
	for _, kr := range idx.Refs() {
		if kr.Kind == entity.Kind && kr.Ref.Path == relPath {
			return nil
		}
	}

	ref := envelope.EntityRef{Schema: entity.Schema, Name: entity.Name, Path: relPath}
	switch entity.Kind {
	case types.EntityKindTable:
		idx.Tables = append(idx.Tables, ref)
	case types.EntityKindView:
		idx.Views = append(idx.Views, ref)
	case types.EntityKindStoredProcedure:
		idx.StoredProcedures = append(idx.StoredProcedures, ref)
	default:
		return fmt.Errorf("%w: unknown entity kind %q", types.ErrStoreFailed, entity.Kind)
	}
	return r.putIndex(ctx, location, idx)
}

func (r *Repository) getIndex(ctx context.Context, location string) (*envelope.ModelIndex, error) {
	raw, err := r.download(ctx, r.key(location, envelope.ModelIndexFile))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: no model at %s", types.ErrNotFound, r.key(location))
		}
		return nil, err
	}

	var idx envelope.ModelIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("%w: model index: %v", types.ErrCorruptData, err)
	}
	if idx.Name == "" {
		return nil, fmt.Errorf("%w: model index has no name", types.ErrCorruptData)
	}
	return &idx, nil
}

func (r *Repository) putIndex(ctx context.Context, location string, idx *envelope.ModelIndex) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal model index: %v", types.ErrStoreFailed, err)
	}
	if err := r.upload(ctx, r.key(location, envelope.ModelIndexFile), raw); err != nil {
		return fmt.Errorf("%w: upload model index: %v", types.ErrStoreFailed, err)
	}
	return nil
}

func (r *Repository) upload(ctx context.Context, key string, data []byte) error {
	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (r *Repository) download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isNotFound(err error) bool {
	var noSuchKey *awstypes.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *awstypes.NotFound
	return errors.As(err, &notFound)
}

// Ensure Repository implements ModelRepository interface
var _ provider.ModelRepository = (*Repository)(nil)
