//go:build integration

package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrCodeEU/facegate/pkg/events"
)

func setupPostgres(t *testing.T) *Store {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "facegate",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/facegate?sslmode=disable", host, port.Port())
	s, err := Open(ctx, Config{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_EventsAndStats(t *testing.T) {
	s := setupPostgres(t)
	seed(t, s)
	ctx := context.Background()

	got, err := s.QueryEvents(ctx, events.Filter{Identity: events.Ptr("ana"), Granted: events.Ptr(true)}, 100)
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(got) != 2 || got[0].Timestamp.Before(got[1].Timestamp) {
		t.Errorf("expected ana's two grants most recent first, got %+v", got)
	}

	c, err := s.CountOutcomes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Granted != 3 || c.Denied != 3 {
		t.Errorf("expected 3/3, got %d/%d", c.Granted, c.Denied)
	}
	if c.GrantedByIdentity["ana"] != 2 || c.GrantedByIdentity["luis"] != 1 {
		t.Errorf("unexpected per identity counts: %v", c.GrantedByIdentity)
	}

	if err := Migrate(ctx, s.DB()); err != nil {
		t.Errorf("second migrate should be a no-op: %v", err)
	}
}

func TestPostgres_TrainingSessions(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	if _, err := s.InsertTrainingSession(ctx, events.TrainingSessionRecord{Identity: "ana", ImageCount: 12, ModelKind: "dlib_resnet", Succeeded: true}); err != nil {
		t.Fatal(err)
	}
	got, err := s.QueryTrainingSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Identity != "ana" || !got[0].Succeeded {
		t.Errorf("unexpected sessions %+v", got)
	}
}
