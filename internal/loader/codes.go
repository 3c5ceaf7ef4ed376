package loader

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"gorm.io/gorm"
)

const (
	codeBytes       = 6 // 8 characters once base64url encoded
	maxCodeAttempts = 64
)

// ErrCodeSpaceExhausted means no unused code was found within the attempt bound.
var ErrCodeSpaceExhausted = errors.New("could not generate an unused code")

// CodeScope hands out random 8-character codes from [A-Za-z0-9-_] that are
// unique within the scope. One scope lives for one import run.
type CodeScope struct {
	seen map[string]struct{}
	rand io.Reader
}

func NewCodeScope(existing ...string) *CodeScope {
	s := &CodeScope{seen: make(map[string]struct{}, len(existing)), rand: rand.Reader}
	for _, c := range existing {
		s.seen[c] = struct{}{}
	}
	return s
}

// SeedCodeScope builds a scope containing every code already stored in model's table.
func SeedCodeScope(tx *gorm.DB, model interface{}) (*CodeScope, error) {
	var codes []string
	if err := tx.Model(model).Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	return NewCodeScope(codes...), nil
}

// Next returns a fresh code and records it as used.
func (s *CodeScope) Next() (string, error) {
	buf := make([]byte, codeBytes)
	for i := 0; i < maxCodeAttempts; i++ {
		if _, err := io.ReadFull(s.rand, buf); err != nil {
			return "", err
		}
		code := base64.RawURLEncoding.EncodeToString(buf)
		if _, dup := s.seen[code]; dup {
			continue
		}
		s.seen[code] = struct{}{}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Reserve marks code as used. It reports false when the code was already taken.
func (s *CodeScope) Reserve(code string) bool {
	if _, dup := s.seen[code]; dup {
		return false
	}
	s.seen[code] = struct{}{}
	return true
}

func (s *CodeScope) Len() int { return len(s.seen) }
