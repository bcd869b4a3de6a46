package auth

import (
	"context"
	"errors"
	"testing"

	"expertdraw/internal/config"
)

func TestRequireUsesRolesAndExplicitPermissions(t *testing.T) {
	svc := Service{Config: config.Default()}
	viewer := Principal{ActorID: "u1", Roles: []string{"viewer"}}
	if err := svc.Require(viewer, DrawRead); err != nil {
		t.Fatalf("viewer should read: %v", err)
	}
	err := svc.Require(viewer, DrawExecute)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != DrawExecute {
		t.Fatalf("expected forbidden draw.execute, got %v", err)
	}
	viewer.Permissions = []string{DrawExecute}
	if err := svc.Require(viewer, DrawExecute); err != nil {
		t.Fatalf("explicit permission ignored: %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{ActorID: "a"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.ActorID != "a" {
		t.Fatalf("principal lost: %+v", p)
	}
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context should have no principal")
	}
}
