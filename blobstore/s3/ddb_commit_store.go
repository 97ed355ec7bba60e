package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/treemem/blobstore"
)

var _ blobstore.BlobStore = (*DDBCommitStore)(nil)

// DDBCommitStore stores blobs in S3 and keeps the CURRENT pointer as a
// versioned item in DynamoDB. A commit is a conditional put of version n+1,
// so two writers racing from the same version cannot both win.
//
// Table schema:
//   - Partition key: base_uri (string)
//   - Sort key: version (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name treemem-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	blobs     blobstore.BlobStore
	ddb       DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the subset of *dynamodb.Client used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when another writer committed first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// NewDDBCommitStore wraps blobs. baseURI (for example "s3://bucket/prefix")
// partitions the commit log so several stores can share one table.
func NewDDBCommitStore(blobs blobstore.BlobStore, ddb DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		blobs:     blobs,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open reads CURRENT from DynamoDB and everything else from the blob store.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != blobstore.CurrentName {
		return s.blobs.Open(ctx, name)
	}
	version, target, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return &pointerBlob{content: []byte(target)}, nil
}

// Put commits CURRENT as a new version and writes anything else to the blob
// store.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != blobstore.CurrentName {
		return s.blobs.Put(ctx, name, data)
	}
	return s.commit(ctx, string(data))
}

// PutIfAbsent writes name only if it does not exist yet. It forwards to the
// wrapped store when that store supports conditional writes; otherwise it
// falls back to an existence check followed by Put, which is not atomic.
func (s *DDBCommitStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	if name == blobstore.CurrentName {
		return fmt.Errorf("s3: %s must be written with Put", name)
	}
	if cp, ok := s.blobs.(interface {
		PutIfAbsent(ctx context.Context, name string, data []byte) error
	}); ok {
		return cp.PutIfAbsent(ctx, name, data)
	}

	b, err := s.blobs.Open(ctx, name)
	switch {
	case err == nil:
		_ = b.Close()
		return ErrConflict
	case !errors.Is(err, blobstore.ErrNotFound):
		return err
	}
	return s.blobs.Put(ctx, name, data)
}

// Create creates a writable blob. CURRENT cannot be streamed.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == blobstore.CurrentName {
		return nil, fmt.Errorf("s3: %s must be written with Put", name)
	}
	return s.blobs.Create(ctx, name)
}

// Delete removes a blob. The commit log is append-only.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name == blobstore.CurrentName {
		return fmt.Errorf("s3: %s cannot be deleted", name)
	}
	return s.blobs.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.blobs.List(ctx, prefix)
}

// Version returns the latest committed version, 0 before the first commit.
func (s *DDBCommitStore) Version(ctx context.Context) (uint64, error) {
	v, _, err := s.latest(ctx)
	return v, err
}

func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit log item without version")
	}
	targetAttr, ok := item["target"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit log item without target")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, target string) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit version %d: %w", current+1, err)
	}
	return nil
}

// pointerBlob serves the CURRENT target read from DynamoDB.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) Close() error { return nil }

func (b *pointerBlob) Size() int64 { return int64(len(b.content)) }

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *pointerBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= int64(len(b.content)) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	end := min(off+length, int64(len(b.content)))
	return io.NopCloser(bytes.NewReader(b.content[off:end])), nil
}
