package security

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"web2pdfbot/internal/domain"
)

// inviteAlphabet is safe inside a Telegram deep-link start parameter.
const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const inviteCodeLength = 16

// ErrNoDB is returned by operations that need the database when none is set.
var ErrNoDB = errors.New("pairing: no database")

// PairingConfig configures the invite-based pairing system.
type PairingConfig struct {
	Required bool
	TTL      time.Duration // invite lifetime, 0 = never expire
	DB       *sql.DB
	Logger   *slog.Logger
	Now      func() time.Time
}

// PairingService hands out invite codes for adapters without native
// pairing and remembers which users joined with one. Invites can be redeemed
// by any number of users until they expire.
type PairingService struct {
	required bool
	ttl      time.Duration
	db       *sql.DB
	logger   *slog.Logger
	now      func() time.Time
}

// NewPairingService creates a new PairingService.
func NewPairingService(cfg PairingConfig) *PairingService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PairingService{
		required: cfg.Required,
		ttl:      cfg.TTL,
		db:       cfg.DB,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// IsRequired returns whether an invite is needed to talk to the bot.
func (ps *PairingService) IsRequired() bool {
	return ps.required
}

// CreateInvite stores a fresh invite code for an account. Expired invites
// are purged on the way.
func (ps *PairingService) CreateInvite(ctx context.Context, adapter string, acc domain.AccountID) (string, error) {
	if ps.db == nil {
		return "", ErrNoDB
	}
	now := ps.now()
	if _, err := ps.db.ExecContext(ctx,
		`DELETE FROM invites WHERE expires_at IS NOT NULL AND expires_at <= ?`, now,
	); err != nil {
		return "", fmt.Errorf("purge invites: %w", err)
	}

	var expiresAt *time.Time
	if ps.ttl > 0 {
		t := now.Add(ps.ttl)
		expiresAt = &t
	}
	code, err := generateSecureCode(inviteCodeLength)
	if err != nil {
		return "", err
	}
	if _, err := ps.db.ExecContext(ctx,
		`INSERT INTO invites (code, adapter, account_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		code, adapter, int64(acc), now, expiresAt,
	); err != nil {
		return "", fmt.Errorf("store invite: %w", err)
	}

	ps.logger.Info("invite created", "adapter", adapter, "account", acc, "expires", expiresAt)
	return code, nil
}

// Redeem pairs userID if code is a live invite of the same account.
func (ps *PairingService) Redeem(ctx context.Context, adapter string, acc domain.AccountID, userID, code string) (bool, error) {
	if ps.db == nil || code == "" {
		return false, nil
	}

	var count int
	err := ps.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invites
		 WHERE code = ? AND adapter = ? AND account_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		code, adapter, int64(acc), ps.now(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check invite: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	if err := ps.pairUser(ctx, adapter, acc, userID); err != nil {
		return false, err
	}
	ps.logger.Info("user paired", "adapter", adapter, "account", acc, "user_id", userID)
	return true, nil
}

// Accept handles a join request carrying an optional invite code. Without
// required pairing every request is accepted.
func (ps *PairingService) Accept(ctx context.Context, adapter string, acc domain.AccountID, userID, code string) (bool, error) {
	if !ps.required {
		if ps.db != nil {
			if err := ps.pairUser(ctx, adapter, acc, userID); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return ps.Redeem(ctx, adapter, acc, userID, code)
}

// IsPaired reports whether userID may talk to the account.
func (ps *PairingService) IsPaired(ctx context.Context, adapter string, acc domain.AccountID, userID string) (bool, error) {
	if !ps.required {
		return true, nil
	}
	if ps.db == nil {
		return false, ErrNoDB
	}

	var count int
	err := ps.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paired_users WHERE adapter = ? AND account_id = ? AND user_id = ?`,
		adapter, int64(acc), userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pairing: %w", err)
	}
	return count > 0, nil
}

// Unpair removes a user's pairing.
func (ps *PairingService) Unpair(ctx context.Context, adapter string, acc domain.AccountID, userID string) error {
	if ps.db == nil {
		return nil
	}
	_, err := ps.db.ExecContext(ctx,
		"DELETE FROM paired_users WHERE adapter = ? AND account_id = ? AND user_id = ?",
		adapter, int64(acc), userID,
	)
	return err
}

func (ps *PairingService) pairUser(ctx context.Context, adapter string, acc domain.AccountID, userID string) error {
	_, err := ps.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paired_users (adapter, account_id, user_id, paired_at) VALUES (?, ?, ?, ?)`,
		adapter, int64(acc), userID, ps.now(),
	)
	if err != nil {
		return fmt.Errorf("pair user: %w", err)
	}
	return nil
}

// generateSecureCode returns a random alphanumeric code of the given length.
func generateSecureCode(length int) (string, error) {
	max := big.NewInt(int64(len(inviteAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		code[i] = inviteAlphabet[n.Int64()]
	}
	return string(code), nil
}
