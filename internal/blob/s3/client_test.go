package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "", endpointURL("  ", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://r2.example", endpointURL("r2.example", true))
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000", true))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "region")

	c, err := New(context.Background(), ClientConfig{
		Bucket: "predictx-events", Region: "us-east-1",
		Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "predictx-events", c.Bucket())
	assert.True(t, c.S3().Options().UsePathStyle)
}
