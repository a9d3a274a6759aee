package wtfs

import (
	"strings"

	"golang.org/x/exp/slices"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// maxSymlinkDepth bounds symlink-following recursion the way a depth
// counter bounds it in most POSIX resolvers; it stands in for the
// per-resolution path cache the host driver this is grounded on uses to
// detect cycles precisely.
const maxSymlinkDepth = 40

// splitPath breaks a path into its non-empty, non-"." components. ".." is
// kept as a literal component and handled during resolution.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, p := range raw {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return slices.Clip(out)
}

// Resolve walks path starting at root, following symlinks for every
// intermediate component but not the final one, and returns the Inode it
// names.
func (v *Volume) Resolve(root *Inode, path string) (*Inode, error) {
	return v.resolveFrom(root, path, 0)
}

func (v *Volume) resolveFrom(root *Inode, path string, depth int) (*Inode, error) {
	if depth > maxSymlinkDepth {
		return nil, wtfserrors.Invalid.WithMessage("too many levels of symbolic links")
	}

	cur := root
	components := splitPath(path)
	for i, name := range components {
		if !isDir(cur.Mode) {
			return nil, wtfserrors.NotSupported.WithMessage("not a directory: " + name)
		}

		if name == ".." {
			parentIno, err := v.Find(cur, "..")
			if err != nil {
				return nil, err
			}
			parent, err := v.IGet(parentIno)
			if err != nil {
				return nil, err
			}
			cur = parent
			continue
		}

		childIno, err := v.Find(cur, name)
		if err != nil {
			return nil, err
		}
		if childIno == 0 {
			return nil, wtfserrors.NotFound.WithMessage("no such file or directory: " + name)
		}
		child, err := v.IGet(childIno)
		if err != nil {
			return nil, err
		}

		isLast := i == len(components)-1
		if isLink(child.Mode) && !isLast {
			target, release, err := v.GetLink(child)
			if err != nil {
				return nil, err
			}
			release()

			var resolved *Inode
			if strings.HasPrefix(target, "/") {
				resolved, err = v.resolveFrom(root, target, depth+1)
			} else {
				resolved, err = v.resolveFrom(cur, target, depth+1)
			}
			if err != nil {
				return nil, err
			}
			cur = resolved
			continue
		}
		cur = child
	}
	return cur, nil
}
