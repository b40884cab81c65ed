package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge/config"
)

func TestNewBucket_RequiresBucket(t *testing.T) {
	_, err := NewBucket(context.Background(), config.StorageConfig{})
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	var gotPath, gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bucket, err := NewBucket(context.Background(), config.StorageConfig{
		Endpoint:        server.URL,
		Region:          "auto",
		Bucket:          "inputs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicBaseURL:   "https://cdn.example.com/",
	})
	require.NoError(t, err)

	url, err := bucket.Upload(context.Background(), "lipsync/user_1/voice clip.mp3", "audio/mpeg", strings.NewReader("ID3audio"))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/lipsync/user_1/voice%20clip.mp3", url)
	assert.Equal(t, "/inputs/lipsync/user_1/voice clip.mp3", gotPath)
	assert.Equal(t, "audio/mpeg", gotContentType)
	assert.Equal(t, "ID3audio", gotBody)
}

func TestUpload_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer server.Close()

	bucket, err := NewBucket(context.Background(), config.StorageConfig{
		Endpoint:        server.URL,
		Bucket:          "inputs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicBaseURL:   "https://cdn.example.com",
	})
	require.NoError(t, err)

	_, err = bucket.Upload(context.Background(), "baby/user_1/a.png", "image/png", strings.NewReader("png"))
	assert.Error(t, err)
}
