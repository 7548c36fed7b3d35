package services_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	err     error
	asked   []string
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.asked = append(f.asked, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func storageConfig() *config.Config {
	return &config.Config{AWS: config.AWSConfig{KeysBucket: "keys-inbox"}}
}

func TestStorageReadObject(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"keys-inbox/plus.txt": []byte("AAAA-1111\n")}}
	storage := services.NewStorageServiceWithClient(client, storageConfig())

	body, err := storage.ReadObject(context.Background(), "", "plus.txt")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-1111\n", string(body))
	assert.Equal(t, []string{"keys-inbox/plus.txt"}, client.asked)
}

func TestStorageReadObjectErrors(t *testing.T) {
	storage := services.NewStorageServiceWithClient(&fakeS3{}, storageConfig())
	_, err := storage.ReadObject(context.Background(), "", "missing.txt")
	requireKind(t, err, utils.KindNotFound)

	storage = services.NewStorageServiceWithClient(&fakeS3{err: awserr.New("RequestTimeout", "slow", nil)}, storageConfig())
	_, err = storage.ReadObject(context.Background(), "", "plus.txt")
	requireKind(t, err, utils.KindUpstream)

	big := bytes.Repeat([]byte("A"), services.MaxKeyFileSize+1)
	storage = services.NewStorageServiceWithClient(&fakeS3{objects: map[string][]byte{"keys-inbox/big.txt": big}}, storageConfig())
	_, err = storage.ReadObject(context.Background(), "", "big.txt")
	requireKind(t, err, utils.KindValidation)
}

func TestStorageWithoutCredentials(t *testing.T) {
	storage, err := services.NewStorageService(storageConfig())
	require.NoError(t, err)

	_, err = storage.ReadObject(context.Background(), "", "plus.txt")
	requireKind(t, err, utils.KindValidation)
}

func TestImportFromS3Bucket(t *testing.T) {
	h := newHarness(t)
	client := &fakeS3{objects: map[string][]byte{"keys-inbox/go.csv": []byte("aaaa-1111,bbbb-2222")}}
	keys := services.NewKeyService(h.store, services.NewStorageServiceWithClient(client, storageConfig()), h.audit)

	result, err := keys.ImportFromS3(context.Background(), services.ImportS3Request{
		ProductKey: "chatgpt-go",
		Key:        "go.csv",
	}, operator)
	require.NoError(t, err)
	assert.Equal(t, "chatgpt-go", result.ProductKey)
	assert.Equal(t, 2, result.Inserted)
}
