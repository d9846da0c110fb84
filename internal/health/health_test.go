package health

import (
	"context"
	"database/sql"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestDBChecker_Creation(t *testing.T) {
	db := &sql.DB{}

	checker := NewDBChecker(db)
	if checker == nil {
		t.Fatal("expected checker to be non-nil")
	}
	if checker.db != db {
		t.Error("expected checker db to match provided db")
	}
}

func TestRedisChecker_Creation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	checker := NewRedisChecker(client)
	if checker == nil {
		t.Fatal("expected checker to be non-nil")
	}
	if checker.client != client {
		t.Error("expected checker client to match provided client")
	}
}

func TestBlobStoreChecker_MissingBucket(t *testing.T) {
	checker := NewBlobStoreChecker(nil, "")

	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unconfigured bucket, got nil")
	}
}
