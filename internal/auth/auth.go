package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/auction/internal/models"
)

// Token roles
const (
	RoleOperator = "operator"
	RoleBidder   = "bidder"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// OperatorStore persists operator accounts
type OperatorStore interface {
	CreateOperator(ctx context.Context, username, passwordHash string) (*models.Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// Claims carried by every token. Subject holds the operator or bidder ID.
type Claims struct {
	Role      string `json:"role"`
	Username  string `json:"username,omitempty"`
	AuctionID string `json:"auction_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthService handles operator authentication and token issuing
type AuthService struct {
	Store  OperatorStore
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(store OperatorStore, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{Store: store, secret: []byte(secret), ttl: ttl}
}

// Register creates a new operator with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Operator, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	op, err := s.Store.CreateOperator(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return op, nil
}

// Login verifies operator credentials and returns a signed token
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	op, err := s.Store.GetOperatorByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.sign(Claims{
		Role:     RoleOperator,
		Username: op.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: op.ID.String(),
		},
	})
}

// IssueBidderToken returns a token that lets a registered bidder bid on
// their auction
func (s *AuthService) IssueBidderToken(b *models.Bidder) (string, error) {
	return s.sign(Claims{
		Role:      RoleBidder,
		AuctionID: b.AuctionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: b.ID.String(),
		},
	})
}

func (s *AuthService) sign(claims Claims) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a token and returns its claims
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectID returns the operator or bidder ID the token was issued to
func (c *Claims) SubjectID() uuid.UUID {
	return uuid.MustParse(c.Subject)
}
