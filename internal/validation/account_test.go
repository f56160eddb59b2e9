package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  string
	}{
		{name: "lowercase", username: "alice"},
		{name: "mixed case with digits", username: "Alice_2024"},
		{name: "minimum length", username: "bob"},
		{name: "maximum length", username: strings.Repeat("a", 32)},
		{name: "empty", username: "", wantErr: "cannot be empty"},
		{name: "too short", username: "ab", wantErr: "3-32 characters"},
		{name: "too long", username: strings.Repeat("a", 33), wantErr: "3-32 characters"},
		{name: "space", username: "bad user", wantErr: "3-32 characters"},
		{name: "path separator", username: "alice/../bob", wantErr: "3-32 characters"},
		{name: "cyrillic", username: "алиса", wantErr: "3-32 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "exactly minimum", password: "password1234"},
		{name: "passphrase", password: "correct-horse-battery"},
		{name: "unicode counted in characters", password: "парольпароль"},
		{name: "empty", password: "", wantErr: "cannot be empty"},
		{name: "too short", password: "password123", wantErr: "at least 12"},
		{name: "short in characters, long in bytes", password: "пароль", wantErr: "at least 12"},
		{name: "too long", password: strings.Repeat("x", MaxPasswordLen+1), wantErr: "must not exceed"},
		{name: "invalid utf-8", password: "password1234\xff", wantErr: "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
