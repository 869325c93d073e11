package safemount

import (
	"fmt"
	"time"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

// DefaultSettleDelay is the pause after each unmount while the stack
// unwinds. Device-mapper and udev race against rapid unmount sequences.
const DefaultSettleDelay = 100 * time.Millisecond

// Stack tracks mounts in the order they were made and unwinds them in
// reverse, syncing each filesystem before it is unmounted.
type Stack struct {
	mounts      []*Mount
	settleDelay time.Duration
}

// NewStack returns an empty mount stack with the given settle delay between
// unmounts. A zero delay disables settling.
func NewStack(settleDelay time.Duration) *Stack {
	return &Stack{
		settleDelay: settleDelay,
	}
}

// Mount mounts source at target and pushes the mount onto the stack.
func (s *Stack) Mount(source, target, fstype string, flags uintptr, data string, makeAndDelete bool,
) (*Mount, error) {
	mount, err := NewMount(source, target, fstype, flags, data, makeAndDelete)
	if err != nil {
		return nil, err
	}
	s.mounts = append(s.mounts, mount)
	return mount, nil
}

// CleanClose unmounts everything in reverse mount order, reporting the
// first failure.
func (s *Stack) CleanClose() error {
	for i := len(s.mounts) - 1; i >= 0; i-- {
		mount := s.mounts[i]

		logger.Log.Debugf("Unmounting (%s)", mount.Target())
		err := mount.CleanClose()
		if err != nil {
			return fmt.Errorf("failed to unwind mounts:\n%w", err)
		}
		s.mounts = s.mounts[:i]

		if s.settleDelay > 0 {
			time.Sleep(s.settleDelay)
		}
	}
	return nil
}

// Close unmounts everything best-effort, in reverse mount order. Intended
// for defer; safe after CleanClose.
func (s *Stack) Close() {
	for i := len(s.mounts) - 1; i >= 0; i-- {
		s.mounts[i].Close()
	}
	s.mounts = nil
}
