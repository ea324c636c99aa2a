// Package identity registers and authenticates email/password accounts.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const MinPasswordLength = 6

const (
	CodeEmailInUse    = "email-already-in-use"
	CodeInvalidEmail  = "invalid-email"
	CodeWeakPassword  = "weak-password"
	CodeUserNotFound  = "user-not-found"
	CodeWrongPassword = "wrong-password"
)

// AuthError is returned for every credential or identity failure.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

type account struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Service keeps accounts under accounts/{emailKey} in the path store.
type Service struct {
	store    store.Store
	cost     int
	validate *validator.Validate
}

// NewService returns a Service hashing with the given bcrypt cost; a cost of
// zero uses bcrypt.DefaultCost.
func NewService(s store.Store, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: s, cost: cost, validate: validator.New()}
}

// Register creates an account and returns the new user id.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", &AuthError{Code: CodeInvalidEmail, Message: "email address is not valid"}
	}
	if len(password) < MinPasswordLength {
		return "", &AuthError{Code: CodeWeakPassword, Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	record := account{
		UserID:       util.NewID("usr"),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, accountPath(email), record); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", &AuthError{Code: CodeEmailInUse, Message: "email already registered"}
		}
		return "", fmt.Errorf("create account: %w", err)
	}
	return record.UserID, nil
}

// Login checks the credentials and returns the user id.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", &AuthError{Code: CodeUserNotFound, Message: "invalid email or password"}
	}

	snapshot, err := s.store.Read(ctx, accountPath(email))
	if err != nil {
		return "", fmt.Errorf("read account: %w", err)
	}
	var record account
	if err := snapshot.Decode(&record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &AuthError{Code: CodeUserNotFound, Message: "invalid email or password"}
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return "", &AuthError{Code: CodeWrongPassword, Message: "invalid email or password"}
	}
	return record.UserID, nil
}

// Remove deletes the account for email. Removing a missing account is not
// an error.
func (s *Service) Remove(ctx context.Context, email string) error {
	if err := s.store.Delete(ctx, accountPath(normalizeEmail(email))); err != nil {
		return fmt.Errorf("remove account: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountPath(email string) string {
	sum := sha256.Sum256([]byte(email))
	return store.Join("accounts", hex.EncodeToString(sum[:]))
}
