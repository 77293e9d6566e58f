package usecase

import (
	"fmt"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

type HashService struct {
	hasher domain.Hasher
}

func NewHashService(h domain.Hasher) *HashService {
	return &HashService{hasher: h}
}

// Hash returns the hex digest of input. Empty input is rejected.
func (s *HashService) Hash(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%w: input string cannot be empty", domain.ErrInvalidArgument)
	}
	return s.hasher.Hash([]byte(input)), nil
}

func (s *HashService) Algorithm() string {
	return s.hasher.Algorithm()
}
