package security

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"web2pdfbot/internal/store"
)

func testPairingLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testPairingStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testPairingLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestPairingService_NotRequired(t *testing.T) {
	ps := NewPairingService(PairingConfig{Required: false, Logger: testPairingLogger()})

	paired, err := ps.IsPaired(context.Background(), "telegram", 1, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if !paired {
		t.Error("when pairing not required, all users should be considered paired")
	}

	ok, err := ps.Accept(context.Background(), "telegram", 1, "user1", "")
	if err != nil || !ok {
		t.Fatalf("any join should be accepted, got %v, %v", ok, err)
	}
}

func TestPairingService_CreateInvite(t *testing.T) {
	ps := NewPairingService(PairingConfig{
		Required: true,
		DB:       testPairingStore(t).DB(),
		Logger:   testPairingLogger(),
	})

	code, err := ps.CreateInvite(context.Background(), "telegram", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != inviteCodeLength {
		t.Errorf("expected %d-char code, got %q", inviteCodeLength, code)
	}
	for _, c := range code {
		if !strings.ContainsRune(inviteAlphabet, c) {
			t.Errorf("code contains %q outside the alphabet", c)
		}
	}
}

func TestPairingService_CreateInvite_NoDB(t *testing.T) {
	ps := NewPairingService(PairingConfig{Required: true, Logger: testPairingLogger()})
	if _, err := ps.CreateInvite(context.Background(), "telegram", 1); err != ErrNoDB {
		t.Fatalf("expected ErrNoDB, got %v", err)
	}
}

func TestPairingService_RedeemPairsUser(t *testing.T) {
	ctx := context.Background()
	ps := NewPairingService(PairingConfig{
		Required: true,
		TTL:      time.Hour,
		DB:       testPairingStore(t).DB(),
		Logger:   testPairingLogger(),
	})

	code, err := ps.CreateInvite(ctx, "telegram", 1)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := ps.Accept(ctx, "telegram", 1, "user1", code)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("valid code should be accepted")
	}
	paired, err := ps.IsPaired(ctx, "telegram", 1, "user1")
	if err != nil || !paired {
		t.Fatalf("user should be paired, got %v, %v", paired, err)
	}

	// invites are reusable until they expire
	ok, err = ps.Redeem(ctx, "telegram", 1, "user2", code)
	if err != nil || !ok {
		t.Fatalf("second user should be able to join, got %v, %v", ok, err)
	}
}

func TestPairingService_RedeemRejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	ps := NewPairingService(PairingConfig{
		Required: true,
		DB:       testPairingStore(t).DB(),
		Logger:   testPairingLogger(),
	})
	if _, err := ps.CreateInvite(ctx, "telegram", 1); err != nil {
		t.Fatal(err)
	}

	for _, code := range []string{"", "nope"} {
		ok, err := ps.Accept(ctx, "telegram", 1, "user1", code)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Errorf("code %q should be rejected", code)
		}
	}
	paired, _ := ps.IsPaired(ctx, "telegram", 1, "user1")
	if paired {
		t.Fatal("rejected user should not be paired")
	}
}

func TestPairingService_InviteScopedToAccount(t *testing.T) {
	ctx := context.Background()
	ps := NewPairingService(PairingConfig{
		Required: true,
		DB:       testPairingStore(t).DB(),
		Logger:   testPairingLogger(),
	})
	code, err := ps.CreateInvite(ctx, "telegram", 1)
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := ps.Redeem(ctx, "telegram", 2, "user1", code); ok {
		t.Fatal("invite of account 1 must not pair with account 2")
	}
	if ok, _ := ps.Redeem(ctx, "discord", 1, "user1", code); ok {
		t.Fatal("invite must not work across adapters")
	}
}

func TestPairingService_InviteExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	db := testPairingStore(t).DB()
	ps := NewPairingService(PairingConfig{
		Required: true,
		TTL:      10 * time.Minute,
		DB:       db,
		Logger:   testPairingLogger(),
		Now:      clock.Now,
	})

	code, err := ps.CreateInvite(ctx, "telegram", 1)
	if err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(11 * time.Minute)
	ok, err := ps.Redeem(ctx, "telegram", 1, "user1", code)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expired invite should be rejected")
	}

	// the next invite purges the expired one
	if _, err := ps.CreateInvite(ctx, "telegram", 1); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM invites WHERE code = ?", code).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("expired invite should have been purged")
	}
}

func TestPairingService_Unpair(t *testing.T) {
	ctx := context.Background()
	ps := NewPairingService(PairingConfig{
		Required: true,
		DB:       testPairingStore(t).DB(),
		Logger:   testPairingLogger(),
	})
	code, _ := ps.CreateInvite(ctx, "telegram", 1)
	ps.Redeem(ctx, "telegram", 1, "user1", code)

	if err := ps.Unpair(ctx, "telegram", 1, "user1"); err != nil {
		t.Fatal(err)
	}
	paired, err := ps.IsPaired(ctx, "telegram", 1, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if paired {
		t.Error("user should not be paired after unpair")
	}
}

func TestGenerateSecureCode_Length(t *testing.T) {
	seen := make(map[string]bool)
	for _, length := range []int{4, 8, 16, 32} {
		code, err := generateSecureCode(length)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != length {
			t.Errorf("expected code length %d, got %d", length, len(code))
		}
		seen[code] = true
	}
	if len(seen) != 4 {
		t.Error("codes should differ")
	}
}
