package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"bingo-coordinator/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var testSchemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func openStore(t *testing.T) (*Store, context.Context, func()) {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	dsn := cfg.TestPostgresDSN
	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	base, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open base db: %v", err)
	}
	createSchemaSQL, err := schemaDDL("CREATE SCHEMA %s", schema)
	if err != nil {
		base.Close()
		t.Fatalf("invalid schema name: %v", err)
	}
	if _, err := base.Exec(context.Background(), createSchemaSQL); err != nil {
		base.Close()
		t.Fatalf("create schema: %v", err)
	}
	base.Close()

	st, err := Open(context.Background(), withSearchPath(dsn, schema), 2*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := applySchema(st); err != nil {
		st.Close()
		t.Fatalf("apply schema: %v", err)
	}
	cleanup := func() {
		st.Close()
		base, err := pgxpool.New(context.Background(), dsn)
		if err == nil {
			if dropSchemaSQL, ddlErr := schemaDDL("DROP SCHEMA %s CASCADE", schema); ddlErr == nil {
				_, _ = base.Exec(context.Background(), dropSchemaSQL)
			}
			base.Close()
		}
	}
	return st, context.Background(), cleanup
}

func applySchema(st *Store) error {
	dir, err := findMigrationDir("migrations")
	if err != nil {
		return err
	}
	b, err := os.ReadFile(filepath.Join(dir, "000001_init.up.sql"))
	if err != nil {
		return err
	}
	_, err = st.Pool.Exec(context.Background(), string(b))
	return err
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}

func schemaDDL(format, schema string) (string, error) {
	if !testSchemaNamePattern.MatchString(schema) {
		return "", fmt.Errorf("schema %q does not match required pattern", schema)
	}
	return fmt.Sprintf(format, pgx.Identifier{schema}.Sanitize()), nil
}

func mustActiveSession(t *testing.T, st *Store, ctx context.Context, code string, users ...string) Session {
	t.Helper()
	sess, err := st.CreateSession(ctx, Session{Code: code, Stake: 10, Status: SessionWaiting})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i, u := range users {
		if err := st.SavePlayer(ctx, Player{SessionID: sess.ID, UserID: u, Status: PlayerReady, CardNo: i + 1, JoinedAt: time.Now()}); err != nil {
			t.Fatalf("save player: %v", err)
		}
	}
	next := sess
	next.Status = SessionCountdown
	if err := st.TransitionSession(ctx, SessionWaiting, next, nil); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	next.Status = SessionActive
	next.StartedAt = timePtr(time.Now())
	if err := st.TransitionSession(ctx, SessionCountdown, next, &PlayerTransition{From: []PlayerStatus{PlayerReady}, To: PlayerPlaying}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return next
}
