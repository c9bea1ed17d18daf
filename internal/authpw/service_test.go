package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tempora/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "dana@example.com",
			Password: "password123",
			Name:     "Dana",
			Role:     "hr",
			TenantID: "acme",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == "" {
			t.Error("expected user ID to be set")
		}
		if user.Role != "hr" || user.TenantID != "acme" {
			t.Errorf("unexpected user: %+v", user)
		}
		if user.PasswordHash == "password123" || user.PasswordHash == "" {
			t.Error("password must be stored hashed")
		}
		if !user.Active {
			t.Error("new users should be active")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "dana@example.com",
			Password: "password123",
			Name:     "Other Dana",
		}); err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "short@example.com",
			Password: "short",
			Name:     "Short",
		}); err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("unknown role defaults to employee", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "intern@example.com",
			Password: "password123",
			Name:     "Intern",
			Role:     "wizard",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Role != "employee" {
			t.Errorf("role = %q, want employee", user.Role)
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
	mock := newMockUserStore()
	svc := NewService(mock)

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "dana@example.com",
		Password: "password123",
		Name:     "Dana",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "dana@example.com", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "dana@example.com" {
			t.Errorf("email = %q", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "dana@example.com", "wrongpassword"); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "ghost@example.com", "password123"); err == nil {
			t.Error("expected error for non-existent user")
		}
	})

	t.Run("deactivated account", func(t *testing.T) {
		userID := mock.emailIndex["dana@example.com"]
		user := mock.users[userID]
		user.Active = false
		mock.users[userID] = user
		defer func() {
			user.Active = true
			mock.users[userID] = user
		}()

		if _, err := svc.SignIn(ctx, "dana@example.com", "password123"); err == nil {
			t.Error("expected error for deactivated account")
		}
	})
}
