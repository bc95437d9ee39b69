package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
)

func (r UserRole) String() string {
	switch r {
	case UserRoleAdmin:
		return "Admin"
	case UserRoleOperator:
		return "Operator"
	default:
		return "Unknown"
	}
}

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('A', 'O');default:O" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required,min=3,max=100"`
	Name     string   `json:"name" validate:"required,max=100"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required,oneof=A O"`
}

type LoginInfo struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}

var ErrInvalidCredentials = errors.New("invalid username or password")

func sessionKey(token string) string {
	return "Token:" + token
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var user User
	err := db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, fmt.Errorf("%w: user is disabled", ErrInvalidCredentials)
	}

	accessToken, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := config.SetRedisValue(sessionKey(token), fmt.Sprint(user.ID), utils.TokenLifespan()); err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token:       token,
		AccessToken: accessToken,
		Name:        user.Name,
		Role:        user.Role.String(),
	}, nil
}

// Logout destroys the current session token. JWTs stay valid until they expire.
func Logout(ctx context.Context) error {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return errors.New("token is required")
	}
	return config.RemoveRedisKey(sessionKey(token))
}

// ResolveSession maps a session token to its user.
func ResolveSession(ctx context.Context, token string) (*User, error) {
	userId, exists, err := config.GetRedisValue(sessionKey(token))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrInvalidCredentials
	}
	var user User
	if err := config.GetDB().WithContext(ctx).Where("id = ?", userId).Take(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateUser creates a user, or resets the password and role of an existing one with the
// same username so seeding can be re-run.
func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	username := html.EscapeString(strings.TrimSpace(input.Username))

	db := config.GetDB()
	var user User
	err = db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	switch {
	case err == nil:
		user.Name = input.Name
		user.Password = string(hashedPassword)
		user.Role = input.Role
		user.IsActive = utils.NewTrue()
		if err := db.WithContext(ctx).Save(&user).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			Username: username,
			Name:     input.Name,
			Password: string(hashedPassword),
			IsActive: utils.NewTrue(),
			Role:     input.Role,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return &user, nil
}
