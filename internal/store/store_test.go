package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/facewatch/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("facewatch_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	const dlibNet, otherNet = "dlib|models", "worker|models|python3 -u other.py"

	// Miss
	if _, ok, err := s.Lookup(ctx, dlibNet, "missing"); err != nil || ok {
		t.Fatalf("Expected clean miss, got ok=%v err=%v", ok, err)
	}

	vec := make([]float32, 128)
	vec[0] = 0.25
	vec[127] = -1.5
	if err := s.Save(ctx, dlibNet, "d1", "alice.jpg", types.Embedding{Vec: vec}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, ok, err := s.Lookup(ctx, dlibNet, "d1")
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	if got.Dim() != 128 || got.Vec[0] != 0.25 || got.Vec[127] != -1.5 {
		t.Errorf("Round-tripped embedding differs: dim=%d first=%f last=%f", got.Dim(), got.Vec[0], got.Vec[127])
	}

	// Same file, different recognizer: not a hit.
	if _, ok, err := s.Lookup(ctx, otherNet, "d1"); err != nil || ok {
		t.Fatalf("Expected another recognizer to miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Save(ctx, otherNet, "d1", "alice.jpg", types.Embedding{Vec: []float32{7, 7, 7}}); err != nil {
		t.Fatalf("Save for second recognizer failed: %v", err)
	}
	got, _, _ = s.Lookup(ctx, dlibNet, "d1")
	if got.Dim() != 128 {
		t.Errorf("Second recognizer overwrote the first: dim=%d", got.Dim())
	}

	// Upsert replaces the name.
	if err := s.Save(ctx, dlibNet, "d1", "alice-renamed.jpg", types.Embedding{Vec: vec}); err != nil {
		t.Fatalf("Second Save failed: %v", err)
	}
	if err := s.Save(ctx, dlibNet, "d2", "bob.jpg", types.Embedding{Vec: []float32{1, 2, 3}}); err != nil {
		t.Fatalf("Save with different dimension failed: %v", err)
	}

	rows, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 3 || rows[2].Name != "bob.jpg" || rows[2].Dim != 3 {
		t.Errorf("Unexpected rows: %+v", rows)
	}

	n, err := s.Prune(ctx, dlibNet, []string{"d2"})
	if err != nil || n != 1 {
		t.Errorf("Prune removed %d rows, err=%v", n, err)
	}
	if _, ok, _ := s.Lookup(ctx, otherNet, "d1"); !ok {
		t.Error("Prune removed another recognizer's row")
	}

	if err := s.Save(ctx, dlibNet, "d3", "empty.jpg", types.Embedding{}); err == nil {
		t.Error("Expected empty embedding to be rejected")
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, _, err := s.Lookup(ctx, dlibNet, "d2"); err == nil {
		t.Error("Expected error querying a dropped table")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
