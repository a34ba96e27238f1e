package service

import (
	"context"
	"errors"
	"strings"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
)

// AuthService owns user records and credential verification.
type AuthService struct {
	users                repository.UserRepository
	hasher               *security.PasswordHasher
	requireVerifiedEmail bool
}

func NewAuthService(users repository.UserRepository, hasher *security.PasswordHasher, requireVerifiedEmail bool) *AuthService {
	return &AuthService{
		users:                users,
		hasher:               hasher,
		requireVerifiedEmail: requireVerifiedEmail,
	}
}

type RegisterInput struct {
	Nickname string
	Email    string
	Password string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))

	v := newValidationError()
	validateNickname(v, in.Nickname)
	validateEmail(v, in.Email)
	validatePassword(v, in.Password)
	if err := v.orNil(); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByNickname(ctx, in.Nickname); err == nil {
		return nil, ErrNicknameExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if in.Email != "" {
		if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
			return nil, ErrEmailExists
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Nickname:     in.Nickname,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if in.Email != "" {
		user.Email = &in.Email
	}
	if err := s.users.Create(ctx, user); err != nil {
		// the uniqueness pre-checks race against concurrent registrations;
		// the unique indexes are the source of truth
		return nil, classifyDuplicate(err)
	}
	return user, nil
}

// VerifyCredentials resolves the identifier as nickname or email and checks
// the password. An unknown identifier still burns a bcrypt comparison so the
// response time does not reveal whether the account exists.
func (s *AuthService) VerifyCredentials(ctx context.Context, identifier, password string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = s.hasher.CompareDummy(ctx, password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.hasher.Compare(ctx, user.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	// account-state failures are intentionally distinguishable from
	// credential failures: at this point the caller has proven they hold the
	// password, so naming the state leaks nothing new
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	if s.requireVerifiedEmail && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return user, nil
}

func (s *AuthService) GetByID(ctx context.Context, id uint) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(ctx, user.PasswordHash, currentPassword); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return ErrInvalidCurrentPassword
		}
		return err
	}
	v := newValidationError()
	validatePassword(v, newPassword)
	if err := v.orNil(); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

type ProfileUpdateInput struct {
	Nickname *string
	Avatar   *string
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uint, in ProfileUpdateInput) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Nickname != nil {
		nickname := strings.TrimSpace(*in.Nickname)
		v := newValidationError()
		validateNickname(v, nickname)
		if err := v.orNil(); err != nil {
			return nil, err
		}
		if nickname != user.Nickname {
			if _, err := s.users.FindByNickname(ctx, nickname); err == nil {
				return nil, ErrNicknameExists
			} else if !errors.Is(err, repository.ErrUserNotFound) {
				return nil, err
			}
			user.Nickname = nickname
		}
	}
	if in.Avatar != nil {
		user.Avatar = in.Avatar
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, classifyDuplicate(err)
	}
	return user, nil
}

// Deactivate soft-deletes the account. The row is kept so nickname history
// and moderation context survive.
func (s *AuthService) Deactivate(ctx context.Context, userID uint) error {
	return s.users.SetActive(ctx, userID, false)
}

func classifyDuplicate(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate") {
		return err
	}
	if strings.Contains(msg, "email") {
		return ErrEmailExists
	}
	return ErrNicknameExists
}
