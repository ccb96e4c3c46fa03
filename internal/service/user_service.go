package service

import (
	"context"
	"errors"
	"time"

	"ringi/internal/model"
	"ringi/internal/repository"
	"ringi/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for request validation

type RegisterUserRequest struct {
	Email      string `json:"email" binding:"required,email"`
	LastName   string `json:"last_name"`
	FirstName  string `json:"first_name"`
	Password   string `json:"password" binding:"required,min=8"`
	IsAdmin    bool   `json:"is_admin"`
	IsApprover bool   `json:"is_approver"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	IsAdmin    bool   `json:"is_admin"`
	IsApprover bool   `json:"is_approver"`
}

type UserService interface {
	Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListApproverCandidates(ctx context.Context) ([]UserResponse, error)
}

type userService struct {
	repo      repository.UserRepository
	jwtSecret []byte
	now       func() time.Time
}

func NewUserService(repo repository.UserRepository, jwtSecret []byte) UserService {
	return &userService{repo: repo, jwtSecret: jwtSecret, now: time.Now}
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		Name:       u.DisplayName(),
		IsAdmin:    u.IsAdmin,
		IsApprover: u.IsApprover,
	}
}

func (s *userService) Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error) {
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperror.Validation("email already exists")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Transient("failed to hash password", err)
	}

	user := &model.User{
		Email:      req.Email,
		LastName:   req.LastName,
		FirstName:  req.FirstName,
		Password:   string(hashed),
		IsAdmin:    req.IsAdmin,
		IsActive:   true,
		IsApprover: req.IsApprover,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, apperror.Transient("failed to create user", err)
	}

	resp := toUserResponse(user)
	return &resp, nil
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"adm":   user.IsAdmin,
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, apperror.Transient("failed to sign token", err)
	}

	refresh := &model.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := s.repo.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, apperror.Transient("failed to store refresh token", err)
	}

	return &TokenResponse{AccessToken: access, RefreshToken: refresh.Token}, nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Authorization("invalid email or password")
		}
		return nil, apperror.Transient("failed to load user", err)
	}
	if !user.IsActive {
		return nil, apperror.Authorization("account is deactivated")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return nil, apperror.Authorization("invalid email or password")
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	stored, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Authorization("invalid refresh token")
		}
		return nil, apperror.Transient("failed to load refresh token", err)
	}
	if s.now().After(stored.ExpiresAt) {
		_ = s.repo.DeleteRefreshToken(ctx, refreshToken)
		return nil, apperror.Authorization("refresh token expired")
	}

	// Rotate: one refresh token, one use.
	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, apperror.Transient("failed to rotate refresh token", err)
	}
	return s.issueTokens(ctx, &stored.User)
}

func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, apperror.Transient("failed to load user", err)
	}
	return user, nil
}

func (s *userService) ListApproverCandidates(ctx context.Context) ([]UserResponse, error) {
	users, err := s.repo.ListApproverCandidates(ctx)
	if err != nil {
		return nil, apperror.Transient("failed to list approver candidates", err)
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return out, nil
}
