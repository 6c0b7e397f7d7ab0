package archive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed no such key", &types.NoSuchKey{}, true},
		{"bare 404 code", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"wrapped", errors.Join(errors.New("get"), &smithy.GenericAPIError{Code: "NoSuchKey"}), true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestS3Store_ObjectKey(t *testing.T) {
	s := NewS3StoreFromClient("remote", "bucket", "/kiosks/", nil)
	if got := s.objectKey("history/k1/a.jsonl.age"); got != "kiosks/history/k1/a.jsonl.age" {
		t.Errorf("objectKey() = %q", got)
	}

	bare := NewS3StoreFromClient("remote", "bucket", "", nil)
	if got := bare.objectKey("history/k1/a.jsonl.age"); got != "history/k1/a.jsonl.age" {
		t.Errorf("objectKey() without prefix = %q", got)
	}
}

func TestS3Store_ValidateSetup(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/present") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	newStore := func(bucket string) *S3Store {
		s, err := NewS3Store(context.Background(), "remote", S3Options{
			Bucket:          bucket,
			Region:          "us-east-1",
			Endpoint:        srv.URL,
			AccessKeyID:     "AKIATEST",
			SecretAccessKey: "secret",
		})
		if err != nil {
			t.Fatalf("NewS3Store() error = %v", err)
		}
		return s
	}

	if err := newStore("present").ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() on existing bucket = %v", err)
	}
	if err := newStore("absent").ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() on missing bucket expected error")
	}
	if len(paths) == 0 || paths[0] != "HEAD /present" {
		t.Errorf("requests = %v, want path-style HEAD", paths)
	}
}
