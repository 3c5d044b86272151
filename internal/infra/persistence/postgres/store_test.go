package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"crowdtag/internal/infra/persistence/postgres/testutil"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func TestSaveUpsertsAndLoadReturnsBuckets(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if err := store.Save(ctx, "run", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "run", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rows := conn.Tables["state"]; len(rows) != 1 {
		t.Fatalf("upsert must replace the bucket, got %d rows", len(rows))
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got["run"]) != `{"v":2}` {
		t.Fatalf("unexpected payload %q", got["run"])
	}
	if store.DB() == nil {
		t.Fatalf("DB handle expected")
	}
}

func TestSaveErrors(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	conn.FailBegin = true
	if err := store.Save(ctx, "b", []byte(`{}`)); err == nil {
		t.Fatalf("begin failure must surface")
	}
	conn.FailBegin = false
	conn.FailCommit = true
	if err := store.Save(ctx, "b", []byte(`{}`)); err == nil {
		t.Fatalf("commit failure must surface")
	}
}

func TestLoadRowsError(t *testing.T) {
	store, conn := openStub(t)
	conn.RowsErr = errors.New("rows broke")
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("rows error must surface")
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://nowhere"); err == nil {
		t.Fatalf("open failure must surface")
	}
}

func TestNewStorePingError(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("ping failure must surface")
	}
}

func TestLiveDatabase(t *testing.T) {
	dsn := os.Getenv("CROWDTAG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CROWDTAG_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if err := store.Save(ctx, "crowdtag_test", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil || !strings.Contains(string(got["crowdtag_test"]), "true") {
		t.Fatalf("load: %q %v", got["crowdtag_test"], err)
	}
}
