package teleinfo

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrReadTimeout     = errors.New("read timeout")
	ErrInvalidRead     = errors.New("invalid read")
	ErrInvalidLength   = errors.New("invalid length")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrNotHandledGroup = errors.New("group not handled")
	ErrInvalidValue    = errors.New("invalid value")
	ErrStopped         = errors.New("read stopped")
)

// GroupError is returned for a well framed group whose content could not be
// used. It does not abort the frame.
type GroupError struct {
	Label string
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s: %v", e.Label, e.Err)
}

func (e *GroupError) Cause() error {
	return e.Err
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// isFrameError reports errors after which reading resumes at the next frame.
func isFrameError(err error) bool {
	switch errors.Cause(err) {
	case ErrReadTimeout, ErrInvalidRead, ErrInvalidLength, ErrInvalidChecksum:
		return true
	}
	return false
}
