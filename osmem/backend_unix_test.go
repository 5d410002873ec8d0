//go:build unix

package osmem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flswld/osmem/sys"
)

func newUnixOS(t *testing.T) sys.OS {
	u, err := sys.NewUnix(testReserve)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, u.Close()) })
	return u
}
