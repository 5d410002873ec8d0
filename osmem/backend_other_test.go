//go:build !unix

package osmem

import (
	"testing"

	"github.com/flswld/osmem/sys"
)

func newUnixOS(t *testing.T) sys.OS {
	t.Skip("no unix backend on this platform")
	return nil
}
