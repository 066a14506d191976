package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"regdoc/api/internal/rbac"
	"regdoc/api/internal/store"
)

type memUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	verified   map[string]store.User
	resets     map[string]resetEntry
}

type resetEntry struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		verified:   make(map[string]store.User),
		resets:     make(map[string]resetEntry),
	}
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if id, ok := m.emailIndex[email]; ok {
		return m.users[id], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *memUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verified[token] = user
	}
	return nil
}

func (m *memUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verified[token]; ok {
		user.IsEmailVerified = true
		m.users[user.ID] = user
		m.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (m *memUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *memUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = resetEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *memUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mem := newMemUserStore()
	svc := NewService(mem)

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "inspector@example.com",
			Password:    "password123",
			DisplayName: "Lead Inspector",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.UserID == "" {
			t.Error("expected UserID to be set")
		}
		if resp.VerificationToken == "" {
			t.Error("expected VerificationToken to be set")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify to be true")
		}
	})

	t.Run("new accounts start as viewers", func(t *testing.T) {
		user, err := mem.GetUserByEmail(ctx, "inspector@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Role != string(rbac.RoleViewer) {
			t.Errorf("expected role %s, got %s", rbac.RoleViewer, user.Role)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "inspector@example.com",
			Password:    "password123",
			DisplayName: "Another Inspector",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "other@example.com",
			Password:    "short",
			DisplayName: "Other",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mem := newMemUserStore()
	svc := NewService(mem)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "editor@example.com",
		Password:    "password123",
		DisplayName: "Editor",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		signIn, err := svc.SignIn(ctx, SignInRequest{Email: "editor@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signIn.User.Email != "editor@example.com" {
			t.Errorf("unexpected user email %s", signIn.User.Email)
		}
		if signIn.RequiresVerify {
			t.Error("expected RequiresVerify false for verified user")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "editor@example.com", Password: "wrong-password"}); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "password123"}); err == nil {
			t.Error("expected error for non-existent user")
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "unverified@example.com",
			Password:    "password123",
			DisplayName: "Unverified",
		}); err != nil {
			t.Fatalf("sign up: %v", err)
		}

		resp, err := svc.SignIn(ctx, SignInRequest{Email: "unverified@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected RequiresVerify true for unverified user")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	mem := newMemUserStore()
	svc := NewService(mem)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "viewer@example.com",
		Password:    "password123",
		DisplayName: "Viewer",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, _ := mem.GetUserByID(ctx, resp.UserID)
		if !user.IsEmailVerified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, "bogus-token"); err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mem := newMemUserStore()
	svc := NewService(mem)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "reset@example.com",
		Password:    "password123",
		DisplayName: "Reset User",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}

	t.Run("request reset for existing user", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
	})

	t.Run("unknown email does not error", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if token != "" {
			t.Error("expected empty token for unknown email")
		}
	})

	t.Run("reset with valid token", func(t *testing.T) {
		token, _ := svc.RequestPasswordReset(ctx, "reset@example.com")

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword123"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "password123"}); err == nil {
			t.Error("expected old password to stop working")
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "newpassword123"}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "bogus", NewPassword: "newpassword123"})
		if err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "some-token", NewPassword: "short"})
		if err == nil {
			t.Error("expected error for short password")
		}
	})
}
