package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestObjectConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ObjectConfig
		want string
	}{
		{name: "missing bucket", cfg: ObjectConfig{Endpoint: "localhost:9000"}, want: "bucket"},
		{name: "missing endpoint", cfg: ObjectConfig{Bucket: "imgs"}, want: "endpoint"},
		{name: "missing access key", cfg: ObjectConfig{Bucket: "imgs", Endpoint: "localhost:9000"}, want: "access key"},
		{name: "missing secret key", cfg: ObjectConfig{Bucket: "imgs", Endpoint: "localhost:9000", AccessKey: "a"}, want: "secret key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	ok := ObjectConfig{Bucket: "imgs", Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}
	if err := ok.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestNewObjectTierRejectsInvalidConfig(t *testing.T) {
	if _, err := NewObjectTier(context.Background(), ObjectConfig{}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestObjectTierObjectName(t *testing.T) {
	tier := &ObjectTier{prefix: "imghub"}
	if got := tier.objectName("ABC"); got != "imghub/ABC" {
		t.Fatalf("unexpected object name %s", got)
	}
	tier.prefix = ""
	if got := tier.objectName("ABC"); got != "ABC" {
		t.Fatalf("unexpected object name %s", got)
	}
}

func TestObjectTierClearStopsOnListError(t *testing.T) {
	var lists atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Query().Has("list-type") {
			lists.Add(1)
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>AccessDenied</Code><Message>Access Denied.</Message><Resource>/imgs</Resource></Error>`))
	}))
	defer backend.Close()

	client, err := minio.New(strings.TrimPrefix(backend.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("a", "b", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	tier := &ObjectTier{client: client, bucket: "imgs", prefix: "cache"}

	done := make(chan error, 1)
	go func() { done <- tier.Clear(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "list objects") {
			t.Fatalf("expected list error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("clear did not return after a list error")
	}
	if lists.Load() != 1 {
		t.Fatalf("listing should stop after the first error, got %d list calls", lists.Load())
	}
}
