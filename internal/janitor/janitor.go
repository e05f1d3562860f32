// Package janitor removes single-instance lock artifacts that a crashed
// browser leaves in its profile and cache directories.
package janitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wabot/wabot/pkg/logger"
)

// LockNames are the Chromium single-instance markers. A profile that still
// carries them after a crash refuses to start a new browser.
var LockNames = []string{
	"SingletonLock",
	"SingletonSocket",
	"SingletonCookie",
	"lockfile",
}

// Report summarizes a Clean run.
type Report struct {
	Created bool
	Removed []string
	Failed  []string
}

// Clean creates dir if it does not exist. Otherwise it walks the tree and
// deletes every entry named in LockNames. Errors are logged and swallowed:
// a lock may already be gone or belong to a user we cannot touch, and
// neither case may abort startup.
//
// WalkDir never follows symlinked directories, so link loops cannot trap it.
func Clean(dir string) Report {
	var rep Report
	log := logger.Log.With("dir", dir)

	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("Janitor: could not create directory", "err", err)
			return rep
		}
		rep.Created = true
		log.Debug("Janitor: directory created")
		return rep
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree; skip it and keep going.
			log.Warn("Janitor: cannot read entry", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !isLockName(d.Name()) {
			return nil
		}
		// Singleton markers are symlinks or sockets; RemoveAll handles both
		// and the rare case of a directory with that name.
		if err := os.RemoveAll(path); err != nil {
			log.Warn("Janitor: failed to remove lock", "path", path, "err", err)
			rep.Failed = append(rep.Failed, path)
		} else {
			log.Info("Janitor: removed stale lock", "path", path)
			rep.Removed = append(rep.Removed, path)
		}
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		log.Warn("Janitor: scan aborted", "err", walkErr)
	}
	return rep
}

// CleanAll runs Clean on each directory in order.
func CleanAll(dirs ...string) []Report {
	reports := make([]Report, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		reports = append(reports, Clean(d))
	}
	return reports
}

func isLockName(name string) bool {
	for _, n := range LockNames {
		if name == n {
			return true
		}
	}
	return false
}

// Personal.AI order the ending
