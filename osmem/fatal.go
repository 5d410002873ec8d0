package osmem

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/flswld/osmem/logger"
)

// FatalError is the panic value raised when the OS refuses memory. The
// allocator state is not rolled back; the process is expected to die.
type FatalError struct {
	Op   string
	Size uint64
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s of %d bytes failed: %v", e.Op, e.Size, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Cause() error {
	return errors.Cause(e.Err)
}

func (a *Allocator) fatal(op string, size uint64, err error) {
	e := &FatalError{Op: op, Size: size, Err: errors.WithStack(err)}
	logger.Error("[%s] %v", a.name, e)
	logger.Flush()
	panic(e)
}
