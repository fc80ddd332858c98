package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/wizary/internal/metrics"
	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/token"
)

// newCodecFixture は実際のトークンコーデックでトークンを発行するManagerを返す。
func newCodecFixture(t *testing.T, limit int) (*Manager, *token.Codec, *time.Time) {
	t.Helper()
	clock := t0
	now := func() time.Time { return clock }

	codec, err := token.NewCodec("codec-test-secret", "wizary", token.WithClock(now))
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	store := newMemStore(&model.User{ID: "user-1", Email: "a@example.com", CreatedAt: t0})
	mgr := NewManager(store, store, codec, metrics.Nop{}, Config{
		MaxActiveSessions: limit,
		SessionLifetime:   24 * time.Hour,
	})
	mgr.SetClock(now)
	return mgr, codec, &clock
}

// 発行したトークンをデコードして得たセッションキーで検証が通る
func TestIssuedToken_DecodesAndValidates(t *testing.T) {
	mgr, codec, _ := newCodecFixture(t, 1)
	ctx := context.Background()

	issued, err := mgr.CreateSession(ctx, "user-1", deviceA())
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	claims, err := codec.Decode(issued.Token)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if claims.SessionKey != issued.Session.SessionKey {
		t.Errorf("sid = %q, want %q", claims.SessionKey, issued.Session.SessionKey)
	}
	if claims.UserID() != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.UserID())
	}
	if !claims.ExpiresAt.Time.Equal(issued.Session.ExpiresAt) {
		t.Errorf("exp = %v, want session expiry %v", claims.ExpiresAt.Time, issued.Session.ExpiresAt)
	}

	sess, user, err := mgr.ValidateSession(ctx, claims.SessionKey)
	if err != nil {
		t.Fatalf("ValidateSession error: %v", err)
	}
	if sess.SessionKey != issued.Session.SessionKey || user.ID != "user-1" {
		t.Errorf("unexpected session/user: %+v %+v", sess, user)
	}
}

// 無効化後もトークン自体はデコードできるが、セッション検証で拒否される
func TestIssuedToken_DeactivatedSessionFailsValidation(t *testing.T) {
	mgr, codec, _ := newCodecFixture(t, 1)
	ctx := context.Background()

	issued, err := mgr.CreateSession(ctx, "user-1", deviceA())
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if err := mgr.DeactivateAllSessions(ctx, "user-1"); err != nil {
		t.Fatalf("DeactivateAllSessions error: %v", err)
	}

	claims, err := codec.Decode(issued.Token)
	if err != nil {
		t.Fatalf("token should still decode after deactivation, got %v", err)
	}
	if _, _, err := mgr.ValidateSession(ctx, claims.SessionKey); !errors.Is(err, model.ErrSessionInactive) {
		t.Errorf("expected ErrSessionInactive, got %v", err)
	}
}

// 有効期限を過ぎるとデコードとセッション検証の両方で拒否される
func TestIssuedToken_ExpiresWithSession(t *testing.T) {
	mgr, codec, clock := newCodecFixture(t, 1)
	ctx := context.Background()

	issued, err := mgr.CreateSession(ctx, "user-1", deviceA())
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	*clock = issued.Session.ExpiresAt.Add(time.Second)

	if _, err := codec.Decode(issued.Token); !errors.Is(err, model.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after expiry, got %v", err)
	}
	if _, _, err := mgr.ValidateSession(ctx, issued.Session.SessionKey); !errors.Is(err, model.ErrSessionInactive) {
		t.Errorf("expected ErrSessionInactive after expiry, got %v", err)
	}
}
