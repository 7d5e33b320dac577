package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ebelyak/sealwire/crypto"
	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
)

type RegisterParams struct {
	Username            string
	Password            string
	PublicKey           []byte
	EncryptedPrivateKey []byte
}

// Register creates an account. The fingerprint is always recomputed
// from the submitted public key; a value supplied by the client would
// let a dishonest one impersonate another key.
func (s *Service) Register(ctx context.Context, params RegisterParams) (models.User, error) {
	if err := ValidateUsername(params.Username); err != nil {
		return models.User{}, err
	}
	if err := ValidatePassword(params.Password); err != nil {
		return models.User{}, err
	}
	if err := ValidateKeyMaterial(params.PublicKey, params.EncryptedPrivateKey); err != nil {
		return models.User{}, err
	}
	if _, err := crypto.ParsePublicKey(params.PublicKey); err != nil {
		return models.User{}, fmt.Errorf("public key rejected: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("password hash failed: %w", err)
	}

	user := models.User{
		Username:            params.Username,
		PasswordHash:        passwordHash,
		PublicKey:           params.PublicKey,
		Fingerprint:         crypto.Fingerprint(params.PublicKey),
		EncryptedPrivateKey: params.EncryptedPrivateKey,
	}

	createdUser, err := s.Store.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("create user failed: %w", err)
	}

	return createdUser, nil
}

// Login verifies the password and returns the user together with a
// signed token. The returned user carries the wrapped private key blob
// so the client can unlock its keyring; it never leaves the server in
// any other call.
func (s *Service) Login(ctx context.Context, username, password string) (models.User, string, error) {
	user, err := s.Store.GetUser(ctx, username)
	if err != nil {
		// Same answer for unknown user and bad password.
		return models.User{}, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.CreateJWT(user.Username)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return user, token, nil
}

func (s *Service) CreateJWT(username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (s *Service) VerifyJWT(tokenString string) (string, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", time.Time{}, err
	}

	if !token.Valid {
		return "", time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", time.Time{}, errors.New("invalid token claims")
	}

	username, ok := claims["sub"].(string)
	if !ok {
		return "", time.Time{}, errors.New("missing sub claim")
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return "", time.Time{}, errors.New("missing exp claim")
	}
	expiry := time.Unix(int64(expFloat), 0)

	return username, expiry, nil
}

func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, errors.New("token not provided")
	}

	username, _, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.GetUser(ctx, username)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}
