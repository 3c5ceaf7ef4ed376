package loader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalab-service/internal/database/dbtest"
	"datalab-service/internal/models"
)

func TestCodeScopeUnique(t *testing.T) {
	s := NewCodeScope()
	seen := map[string]bool{}
	for i := 0; i < 2000; i++ {
		code, err := s.Next()
		require.NoError(t, err)
		require.Len(t, code, 8)
		require.False(t, seen[code])
		seen[code] = true
	}
	assert.Equal(t, 2000, s.Len())
}

func TestCodeScopeRetriesCollisions(t *testing.T) {
	first := bytes.Repeat([]byte{0}, codeBytes)
	second := bytes.Repeat([]byte{1}, codeBytes)
	s := NewCodeScope("AAAAAAAA")
	s.rand = bytes.NewReader(append(first, second...))

	code, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "AQEBAQEB", code)
}

func TestCodeScopeExhausted(t *testing.T) {
	s := NewCodeScope("AAAAAAAA")
	s.rand = bytes.NewReader(make([]byte, codeBytes*maxCodeAttempts))
	_, err := s.Next()
	assert.True(t, errors.Is(err, ErrCodeSpaceExhausted))
}

func TestSeedCodeScopeFromStore(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, db.Create(&models.Datum{Code: "AAAAAAAA", SurveyID: 1, IndicatorID: 1}).Error)
	s, err := SeedCodeScope(db, &models.Datum{})
	require.NoError(t, err)
	assert.False(t, s.Reserve("AAAAAAAA"))
	assert.True(t, s.Reserve("BBBBBBBB"))
}
