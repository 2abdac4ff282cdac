// Package auth — граница с подсистемой аутентификации.
//
// Движок не проверяет подписи кошельков, nonce и токены: он доверяет
// непрозрачному userId, который кладёт в контекст внешний слой.
package auth

import (
	"context"
	"errors"
)

// ErrNoUser — в контексте нет пользователя.
var ErrNoUser = errors.New("no authenticated user")

// UserResolver отдаёт ID текущего пользователя.
type UserResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

type ctxKey struct{}

// WithUserID кладёт ID пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// ContextResolver читает пользователя из контекста.
type ContextResolver struct{}

// CurrentUserID реализует UserResolver.
func (ContextResolver) CurrentUserID(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrNoUser
}

// Static — резолвер с фиксированным пользователем (CLI, фоновые процессы).
type Static string

// CurrentUserID реализует UserResolver.
func (s Static) CurrentUserID(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoUser
	}
	return string(s), nil
}
