package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercisePreferences(t *testing.T, p Preferences) {
	t.Helper()
	ctx := context.Background()
	tid := "t-" + uuid.NewString()

	_, err := p.Theme(ctx, tid)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.SetTheme(ctx, tid, "  neon "))
	got, err := p.Theme(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, "neon", got)

	require.NoError(t, p.SetTheme(ctx, tid, "classic"))
	got, err = p.Theme(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, "classic", got)

	assert.ErrorIs(t, p.SetTheme(ctx, tid, "   "), ErrInvalidTheme)
	got, _ = p.Theme(ctx, tid)
	assert.Equal(t, "classic", got, "rejected theme leaves the old one")
}

func TestMemory(t *testing.T) {
	exercisePreferences(t, NewMemory())
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	p, err := Open(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	exercisePreferences(t, p)
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), "::not a dsn::", nil)
	assert.Error(t, err)
}

func TestNormalizeTheme(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"dark", "dark", false},
		{" dark\n", "dark", false},
		{"", "", true},
		{strings.Repeat("x", 65), "", true},
		{strings.Repeat("é", 64), strings.Repeat("é", 64), false},
	}
	for _, tc := range cases {
		got, err := NormalizeTheme(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTheme, "input %q", tc.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
