package auth

import (
	"context"
	"errors"
	"testing"
)

func TestContextResolver(t *testing.T) {
	var r ContextResolver

	if _, err := r.CurrentUserID(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("expected ErrNoUser, got %v", err)
	}

	ctx := WithUserID(context.Background(), "GUSER")
	id, err := r.CurrentUserID(ctx)
	if err != nil || id != "GUSER" {
		t.Errorf("expected GUSER, got %q, %v", id, err)
	}
}

func TestStatic(t *testing.T) {
	if id, _ := Static("cli").CurrentUserID(context.Background()); id != "cli" {
		t.Errorf("expected cli, got %q", id)
	}
	if _, err := Static("").CurrentUserID(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("expected ErrNoUser, got %v", err)
	}
}
