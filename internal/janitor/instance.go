package janitor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
)

// Instance is an exclusive, process-wide claim on an auth directory.
// Holding it proves the Chromium singleton markers in that directory
// belong to a dead process and are safe to clean.
type Instance struct {
	lock *flock.Flock
}

// AcquireInstance takes a non-blocking flock on <dir>/.wabot.lock.
func AcquireInstance(dir string) (*Instance, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, werrors.New(werrors.ErrCodeInstanceLocked, "AcquireInstance", "creating auth dir", err)
	}
	path := filepath.Join(dir, consts.InstanceLockName)
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeInstanceLocked, "AcquireInstance", "acquiring lock", err)
	}
	if !locked {
		return nil, werrors.New(werrors.ErrCodeInstanceLocked, "AcquireInstance",
			fmt.Sprintf("another wabot owns %s", dir), nil)
	}
	return &Instance{lock: lock}, nil
}

// Path returns the lock file path.
func (i *Instance) Path() string { return i.lock.Path() }

// Close releases the lock. The file itself is left in place.
func (i *Instance) Close() error {
	return i.lock.Unlock()
}

// Personal.AI order the ending
