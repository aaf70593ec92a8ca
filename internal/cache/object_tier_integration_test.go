package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/any-hub/imghub/internal/fingerprint"
)

func setupTestObjectTier(t *testing.T) *ObjectTier {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("minio container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("container endpoint: %v", err)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}

	tier, err := NewObjectTier(ctx, ObjectConfig{Client: client, Bucket: "imghub-test", Prefix: "cache"})
	if err != nil {
		t.Fatalf("object tier: %v", err)
	}
	return tier
}

func TestIntegrationObjectTierRoundTrip(t *testing.T) {
	tier := setupTestObjectTier(t)
	ctx := context.Background()
	key := fingerprint.Of("https://example.com/object.png")

	if ok, err := tier.Exists(ctx, key); err != nil || ok {
		t.Fatalf("expected empty bucket, ok=%v err=%v", ok, err)
	}
	if _, err := tier.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := tier.Store(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("store error: %v", err)
	}
	data, err := tier.Load(ctx, key)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("payload mismatch: %q", string(data))
	}

	if err := tier.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate error: %v", err)
	}
	if ok, _ := tier.Exists(ctx, key); ok {
		t.Fatalf("expected object removed")
	}
}

func TestIntegrationObjectTierClear(t *testing.T) {
	tier := setupTestObjectTier(t)
	ctx := context.Background()
	keys := []string{fingerprint.Of("a"), fingerprint.Of("b")}
	for _, key := range keys {
		if err := tier.Store(ctx, key, []byte(key)); err != nil {
			t.Fatalf("store error: %v", err)
		}
	}

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	for _, key := range keys {
		if ok, _ := tier.Exists(ctx, key); ok {
			t.Fatalf("expected %s cleared", key)
		}
	}
}
