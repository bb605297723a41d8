// Package permissions hands a job's working directory over to the
// unprivileged user that cleans it up later.
package permissions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// unchanged tells Lchown to keep the current uid or gid.
const unchanged = -1

// Resetter implements core.PermissionResetter. An empty Owner and Group skips
// the ownership change.
type Resetter struct {
	Mode  os.FileMode
	Owner string
	Group string
}

// New creates a Resetter applying mode and owner:group.
func New(mode os.FileMode, owner, group string) *Resetter {
	return &Resetter{Mode: mode, Owner: owner, Group: group}
}

// Reset applies Mode to every entry under dir (symlinks excepted) and changes
// the ownership of every entry. It keeps going after a failed entry and
// returns all failures joined.
func (r *Resetter) Reset(dir string) error {
	uid, gid, err := r.ids()
	if err != nil {
		return err
	}

	chown := uid != unchanged || gid != unchanged

	var failures []error

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}

			failures = append(failures, err)

			return nil
		}

		if entry.Type()&fs.ModeSymlink == 0 {
			chmodErr := os.Chmod(path, r.Mode)
			if chmodErr != nil {
				failures = append(failures, chmodErr)
			}
		}

		if chown {
			chownErr := os.Lchown(path, uid, gid)
			if chownErr != nil {
				failures = append(failures, chownErr)
			}
		}

		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("failed to reset permissions of %s: %w", dir, walkErr)
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to reset permissions of %s: %w", dir, errors.Join(failures...))
	}

	return nil
}

func (r *Resetter) ids() (int, int, error) {
	uid, gid := unchanged, unchanged

	if r.Owner != "" {
		owner, err := user.Lookup(r.Owner)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to look up user %q: %w", r.Owner, err)
		}

		uid, err = strconv.Atoi(owner.Uid)
		if err != nil {
			return 0, 0, fmt.Errorf("user %q has non-numeric uid %q: %w", r.Owner, owner.Uid, err)
		}
	}

	if r.Group != "" {
		group, err := user.LookupGroup(r.Group)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to look up group %q: %w", r.Group, err)
		}

		gid, err = strconv.Atoi(group.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("group %q has non-numeric gid %q: %w", r.Group, group.Gid, err)
		}
	}

	return uid, gid, nil
}
