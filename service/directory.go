package service

import (
	"context"

	"github.com/ebelyak/sealwire/models"
)

// ListUsers returns the public directory: username, public key,
// fingerprint, and presence timestamps. Credential material never
// crosses this boundary.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = nil
		users[i].EncryptedPrivateKey = nil
	}
	return users, nil
}

// GetUserProfile returns one directory entry, stripped the same way.
func (s *Service) GetUserProfile(ctx context.Context, username string) (models.User, error) {
	user, err := s.Store.GetUser(ctx, username)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = nil
	user.EncryptedPrivateKey = nil
	return user, nil
}
