package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/infra/security"
	"github.com/arklim/community-identity/internal/repository/memory"
)

func newTestVault(t *testing.T) (*TokenVault, *memory.TokenRepository, *testClock) {
	t.Helper()
	clock := newTestClock()
	repo := memory.NewTokenRepository()
	return NewTokenVault(repo, 0, 0, nil).WithClock(clock.Now), repo, clock
}

func TestTokenVaultIssueStoresOnlyHash(t *testing.T) {
	vault, repo, clock := newTestVault(t)
	ctx := context.Background()

	issued, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if issued.Plaintext == "" {
		t.Fatalf("expected plaintext token")
	}
	if want := clock.Now().Add(24 * time.Hour); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expected default verification ttl, got %s want %s", issued.ExpiresAt, want)
	}

	if _, err := repo.GetByHash(ctx, issued.Plaintext, domain.PurposeEmailVerification); err == nil {
		t.Fatalf("plaintext must not be usable as storage key")
	}
	stored, err := repo.GetByHash(ctx, security.HashToken(issued.Plaintext), domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("expected token stored by hash: %v", err)
	}
	if stored.AccountID != "account-1" {
		t.Fatalf("unexpected account id: %s", stored.AccountID)
	}
}

func TestTokenVaultResetTTL(t *testing.T) {
	vault, _, clock := newTestVault(t)

	issued, err := vault.Issue(context.Background(), "account-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if want := clock.Now().Add(time.Hour); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expected one hour reset ttl, got %s", issued.ExpiresAt)
	}
}

func TestTokenVaultIssueRejectsBadInput(t *testing.T) {
	vault, _, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := vault.Issue(ctx, " ", domain.PurposeEmailVerification); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank account, got %v", err)
	}
	if _, err := vault.Issue(ctx, "account-1", domain.TokenPurpose("login")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown purpose, got %v", err)
	}
}

func TestTokenVaultRedeemOnce(t *testing.T) {
	vault, _, _ := newTestVault(t)
	ctx := context.Background()

	issued, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	accountID, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if accountID != "account-1" {
		t.Fatalf("unexpected account id: %s", accountID)
	}

	if _, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposeEmailVerification); !errors.Is(err, domain.ErrTokenAlreadyConsumed) {
		t.Fatalf("expected ErrTokenAlreadyConsumed, got %v", err)
	}
}

func TestTokenVaultRedeemFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown token", func(t *testing.T) {
		vault, _, _ := newTestVault(t)
		if _, err := vault.Redeem(ctx, "never-issued", domain.PurposeEmailVerification); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		vault, _, _ := newTestVault(t)
		if _, err := vault.Redeem(ctx, "", domain.PurposeEmailVerification); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("wrong purpose", func(t *testing.T) {
		vault, _, _ := newTestVault(t)
		issued, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		if _, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposePasswordReset); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
		if _, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposeEmailVerification); err != nil {
			t.Fatalf("token should survive a wrong-purpose attempt: %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		vault, _, clock := newTestVault(t)
		issued, err := vault.Issue(ctx, "account-1", domain.PurposePasswordReset)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		clock.Advance(time.Hour)
		if _, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposePasswordReset); !errors.Is(err, domain.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired at the boundary, got %v", err)
		}
	})

	t.Run("superseded", func(t *testing.T) {
		vault, _, clock := newTestVault(t)
		first, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		clock.Advance(time.Minute)
		second, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}

		if _, err := vault.Redeem(ctx, first.Plaintext, domain.PurposeEmailVerification); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Fatalf("expected superseded token to be ErrTokenNotFound, got %v", err)
		}
		if _, err := vault.Redeem(ctx, second.Plaintext, domain.PurposeEmailVerification); err != nil {
			t.Fatalf("latest token should redeem: %v", err)
		}
	})

	t.Run("other purpose is not superseded", func(t *testing.T) {
		vault, _, _ := newTestVault(t)
		verification, err := vault.Issue(ctx, "account-1", domain.PurposeEmailVerification)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		if _, err := vault.Issue(ctx, "account-1", domain.PurposePasswordReset); err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		if _, err := vault.Redeem(ctx, verification.Plaintext, domain.PurposeEmailVerification); err != nil {
			t.Fatalf("verification token should stay live: %v", err)
		}
	})
}

func TestTokenVaultConcurrentRedeemSucceedsOnce(t *testing.T) {
	vault, _, _ := newTestVault(t)
	ctx := context.Background()

	issued, err := vault.Issue(ctx, "account-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		consumed  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := vault.Redeem(ctx, issued.Plaintext, domain.PurposePasswordReset)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrTokenAlreadyConsumed):
				consumed++
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful redeem, got %d", successes)
	}
	if consumed != workers-1 {
		t.Fatalf("expected %d already-consumed failures, got %d", workers-1, consumed)
	}
}
