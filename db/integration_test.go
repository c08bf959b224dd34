package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/gamerdeathbot/db"
	"github.com/onnwee/gamerdeathbot/testutil"
)

func TestTokenStoreRoundTripPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM oauth_tokens WHERE provider = 'test-roundtrip'`) })

	store := &db.TokenStore{DB: database, Encryptor: testutil.Encryptor(t)}
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	in := db.OAuthToken{Provider: "test-roundtrip", AccessToken: "a", RefreshToken: "r", Expiry: exp, Scope: "chat:read"}
	if err := store.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	in.AccessToken = "a2"
	if err := store.Upsert(ctx, in); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	var raw string
	if err := database.QueryRow(`SELECT access_token FROM oauth_tokens WHERE provider = 'test-roundtrip'`).Scan(&raw); err != nil {
		t.Fatalf("scan raw: %v", err)
	}
	if raw == "a2" {
		t.Fatal("access token stored in plaintext")
	}

	got, err := store.Get(ctx, "test-roundtrip")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r" || !got.Expiry.Equal(exp) {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestInsertChatLogPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM chat_logs WHERE channel = 'test_chanlog'`) })

	e := db.ChatLogEntry{Time: time.Now(), Channel: "test_chanlog", Username: "alice", Message: "hi"}
	if err := db.InsertChatLog(ctx, database, e); err != nil {
		t.Fatalf("InsertChatLog() error = %v", err)
	}
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM chat_logs WHERE channel = 'test_chanlog'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("version = %d dirty = %v, want 1 false", v, dirty)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := db.MigrateDown(database); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	v, _, err := db.GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if v != 0 {
		t.Fatalf("version after down = %d, want 0", v)
	}
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'chat_logs'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("chat_logs survived MigrateDown")
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations() after down error = %v", err)
	}
}
