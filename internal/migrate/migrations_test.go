package migrate

import (
	"context"
	"testing"

	"uptimeline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	v, err := Version(ctx, conn)
	if err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err = Version(ctx, conn)
	if err != nil || v != migrations[len(migrations)-1].Version {
		t.Fatalf("version = %d, %v", v, err)
	}
	var pool, cursor int64
	if err := conn.QueryRowContext(ctx, `SELECT balance FROM reward_pool WHERE id=1`).Scan(&pool); err != nil {
		t.Fatalf("reward pool seed: %v", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT cursor FROM rotation WHERE id=1`).Scan(&cursor); err != nil {
		t.Fatalf("rotation seed: %v", err)
	}
	if pool != 0 || cursor != 0 {
		t.Fatalf("unexpected seeds pool=%d cursor=%d", pool, cursor)
	}
}
