//go:build unix

package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtectRoundTrip(t *testing.T) {
	page := PageSize()
	r, err := Map(2*page, page)
	require.NoError(t, err)
	defer r.Unmap()

	b := r.Bytes()
	b[0] = 0x42

	require.NoError(t, Protect(b[:page/2], ReadOnly))
	require.Equal(t, byte(0x42), b[0], "read-only pages stay readable")
	require.NoError(t, Protect(b[:page/2], ReadWrite))
	b[1] = 0x43
	require.Equal(t, byte(0x43), b[1])
}

func TestProtectRejectsUnaligned(t *testing.T) {
	page := PageSize()
	r, err := Map(page, page)
	require.NoError(t, err)
	defer r.Unmap()

	err = Protect(r.Bytes()[8:], ReadOnly)
	require.True(t, errors.Is(err, ErrUnaligned))
	require.NoError(t, Protect(nil, ReadOnly))
}
