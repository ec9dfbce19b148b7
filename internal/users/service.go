package users

import (
	"context"
	"errors"

	"github.com/daybook/daybook/backend/go-services/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthenticated is returned when the identity behind a valid session
	// cannot be resolved. A session without a user record is a trust
	// violation, never downgraded to a role failure.
	ErrUnauthenticated = errors.New("identity could not be resolved")
	// ErrForbidden is returned when the user's role does not satisfy the
	// required role.
	ErrForbidden = errors.New("insufficient role")
	// ErrInvalidCredentials is returned by Authenticate for a wrong email or
	// password; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service encapsulates user lookup and authorization logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	return s.repo.List(ctx)
}

// Authenticate verifies email+password and returns the user on success.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		// burn comparable time so missing users are not distinguishable
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B718d9yPO5lXl7zWYLFpVYzbzwJa"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Authorize checks that the user identified by id carries the required role.
// Role comparison is exact-match; there is no hierarchy between the two tiers.
// Returns ErrUnauthenticated when the user record is missing, ErrForbidden on
// a role mismatch, nil when authorized.
func (s *Service) Authorize(ctx context.Context, id string, required models.Role) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUnauthenticated
	}
	if u.Role != required {
		return ErrForbidden
	}
	return nil
}
