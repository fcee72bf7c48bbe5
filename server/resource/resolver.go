// resource resolver: maps a parsed URL path to a memory-mapped regular
// file under the document root
package resource

import (
	"os"
	"path"
	"strings"

	"github.com/indigo-web/utils/uf"
	"golang.org/x/sys/unix"

	"github.com/s00inx/staticd/server/protocol"
)

// FilenameLen caps the joined doc root + URL path. Longer paths are
// rejected instead of truncated, so a long URL can never alias a
// shorter one.
const FilenameLen = 200

// world-readable bit, the only permission the server checks
const otherRead = 0o004

// File is a resolved static resource backed by a read-only private mapping.
// The mapping outlives the file descriptor: the fd is closed as soon as the
// mapping is established.
type File struct {
	Path string
	Size int64

	data []byte
}

// Data is the mapped contents. Empty files carry no mapping.
func (f *File) Data() []byte {
	return f.data
}

// Unmap releases the mapping. Calling it again is a no-op.
func (f *File) Unmap() {
	if f.data != nil {
		unix.Munmap(f.data)
		f.data = nil
	}
}

// Resolver resolves request paths under a fixed document root.
type Resolver struct {
	root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{root: strings.TrimRight(root, "/")}
}

// Resolve joins the URL path onto the document root and maps the target.
// Outcomes mirror the pipeline codes: a missing file is NoResource, a file
// without the world-read bit is ForbiddenRequest, a directory target or a
// path that steps outside the root is BadRequest. On FileRequest the
// returned File holds the mapping and must be released with Unmap on every
// response completion path.
func (r *Resolver) Resolve(urlPath []byte) (*File, protocol.Code) {
	p := uf.B2S(urlPath)
	if hasDotDot(p) {
		return nil, protocol.BadRequest
	}
	full := r.root + path.Clean(p)
	if len(full) > FilenameLen {
		return nil, protocol.BadRequest
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, protocol.NoResource
	}
	if info.Mode().Perm()&otherRead == 0 {
		return nil, protocol.ForbiddenRequest
	}
	if info.IsDir() {
		return nil, protocol.BadRequest
	}

	f := &File{Path: full, Size: info.Size()}
	if info.Size() == 0 {
		return f, protocol.FileRequest
	}

	fd, err := os.Open(full)
	if err != nil {
		return nil, protocol.NoResource
	}
	data, err := unix.Mmap(int(fd.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	fd.Close()
	if err != nil {
		return nil, protocol.InternalError
	}
	f.data = data
	return f, protocol.FileRequest
}

// hasDotDot reports whether the raw path contains a ".." element.
// Traversal attempts are rejected before any cleaning.
func hasDotDot(p string) bool {
	for p != "" {
		var elem string
		elem, p, _ = strings.Cut(p, "/")
		if elem == ".." {
			return true
		}
	}
	return false
}
