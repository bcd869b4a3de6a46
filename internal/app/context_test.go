package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"expertdraw/internal/config"
	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/lock"
	"expertdraw/internal/logger"
	"expertdraw/internal/migrate"
)

func TestOpenPreparesWorkspace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: dir, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if _, ok := a.Engine.Locker.(*lock.Table); !ok {
		t.Fatalf("expected in-process lock, got %T", a.Engine.Locker)
	}
	v, err := migrate.Version(a.DB)
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := migrate.Latest()
	if v != latest {
		t.Fatalf("schema at %d, want %d", v, latest)
	}
	if _, err := a.Engine.ImportExperts(ctx, []domain.Expert{{ID: "e1", Name: "One", Category: "c", IsActive: true}}, "t"); err != nil {
		t.Fatal(err)
	}
	d, err := a.Engine.CreateDraw(ctx, engine.DrawInput{Category: "c", ExpertCount: 1}, "t")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Engine.Execute(ctx, d.ID, engine.ExecuteOptions{}); err != nil {
		t.Fatalf("execute through app engine: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := "lock:\n  backend: etcd\n"
	if err := os.WriteFile(filepath.Join(dir, "expertdraw.yml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), Options{Workspace: dir, Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected config error")
	}
	if config.Path(dir) != filepath.Join(dir, "expertdraw.yml") {
		t.Fatalf("unexpected config path")
	}
}
