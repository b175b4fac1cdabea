package storage_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"hn-digest/models"
	"hn-digest/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, err := io.ReadAll(in.Body)
	f.body = b
	return &s3.PutObjectOutput{}, err
}

func TestArchiveStoryWritesGzipSnapshot(t *testing.T) {
	put := &fakePutter{}
	a := storage.NewArchiver(put, "hn-raw", zaptest.NewLogger(t))
	story := models.ScrapedStory{ID: "111", Title: "T", RawContent: "body",
		Comments: []models.CommentDTO{{ID: "1", Author: "a", Text: "c"}}}

	key, err := a.ArchiveStory(context.Background(), story, time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "raw/2026-03-04/111.json.gz", key)
	assert.Equal(t, "hn-raw", *put.input.Bucket)
	assert.Equal(t, "gzip", *put.input.ContentEncoding)

	zr, err := gzip.NewReader(bytes.NewReader(put.body))
	require.NoError(t, err)
	var got models.ScrapedStory
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, story.ID, got.ID)
	assert.Len(t, got.Comments, 1)
}
