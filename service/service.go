package service

import (
	"github.com/ebelyak/sealwire/cache"
	"github.com/ebelyak/sealwire/store"
)

type Service struct {
	Store     store.MessageStore
	Cache     cache.SealwireCache
	JWTSecret []byte
}

func NewService(
	store store.MessageStore,
	cache cache.SealwireCache,
	jwtSecret []byte,
) *Service {
	return &Service{
		Store:     store,
		Cache:     cache,
		JWTSecret: jwtSecret,
	}
}
