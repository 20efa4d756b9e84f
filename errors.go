package vrend

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrResourceCreation marks every failure of the device to create or
	// allocate a resource.
	ErrResourceCreation = errors.New("resource creation failed")

	// ErrNoMemoryType is returned when no memory type satisfies a resource's
	// type mask and the requested property flags.
	ErrNoMemoryType = errors.New("no suitable memory type")

	// ErrUnsupportedLayoutTransition is returned for any image layout pair other
	// than undefined to transfer-dst and transfer-dst to shader-read-only.
	ErrUnsupportedLayoutTransition = errors.New("unsupported layout transition")

	// ErrSurfaceStale is returned when the swapchain is out of date or
	// suboptimal. The frame is dropped; the caller may continue with the next
	// one.
	ErrSurfaceStale = errors.New("presentation surface is stale")

	// ErrFrameState is returned when frame operations are called out of order.
	ErrFrameState = errors.New("frame operation out of order")
)

// creationError reports ErrResourceCreation to the standard library's
// errors.Is, which does not see cockroachdb marks.
type creationError struct {
	cause error
}

func (e *creationError) Error() string { return e.cause.Error() }
func (e *creationError) Unwrap() error { return e.cause }

func (e *creationError) Is(target error) bool { return target == ErrResourceCreation }

// creationFailed wraps a device error and marks it as a resource creation
// failure. Both errors.Is implementations match ErrResourceCreation, and the
// device error stays reachable through errors.As.
func creationFailed(err error, format string, args ...any) error {
	return errors.Mark(&creationError{cause: errors.Wrapf(err, format, args...)}, ErrResourceCreation)
}
