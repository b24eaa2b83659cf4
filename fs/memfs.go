package fs

import (
	"sort"
	"strings"

	kerrors "breenix-go/errors"
)

// MemFs is a path-indexed in-memory filesystem: directories, regular
// files with an executable bit, and device nodes. It backs exec's
// image lookup and the file syscalls.
type MemFs struct {
	root    *dirNode
	nextIno uint64
}

type dirNode struct {
	ino      uint64
	children map[string]any // *dirNode | *fileNode | *devNode
}

type fileNode struct {
	ino  uint64
	name string
	data []byte
	exec bool
}

type devNode struct {
	ino  uint64
	name string
	file File
}

// NewMemFs returns a filesystem with an empty root.
func NewMemFs() *MemFs {
	fs := &MemFs{}
	fs.root = &dirNode{ino: fs.ino(), children: map[string]any{}}
	return fs
}

func (fs *MemFs) ino() uint64 {
	fs.nextIno++
	return fs.nextIno
}

// splitPath normalises an absolute path into components.
func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, kerrors.New(kerrors.ErrInvalidArgument, "lookup", "path must be absolute")
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		switch p {
		case "", ".":
		case "..":
			return nil, kerrors.New(kerrors.ErrInvalidArgument, "lookup", "path traversal not supported")
		default:
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// walkDir resolves every component but the last. A file in a directory
// position is ENOTDIR.
func (fs *MemFs) walkDir(parts []string) (*dirNode, error) {
	dir := fs.root
	for _, p := range parts {
		child, ok := dir.children[p]
		if !ok {
			return nil, kerrors.ENOENT
		}
		next, ok := child.(*dirNode)
		if !ok {
			return nil, kerrors.ENOTDIR
		}
		dir = next
	}
	return dir, nil
}

// Mkdir creates a directory, making parents as needed.
func (fs *MemFs) Mkdir(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	dir := fs.root
	for _, p := range parts {
		child, ok := dir.children[p]
		if !ok {
			child = &dirNode{ino: fs.ino(), children: map[string]any{}}
			dir.children[p] = child
		}
		next, ok := child.(*dirNode)
		if !ok {
			return kerrors.ENOTDIR
		}
		dir = next
	}
	return nil
}

// Install writes a regular file, creating parents.
func (fs *MemFs) Install(path string, data []byte, exec bool) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return kerrors.EISDIR
	}
	if err := fs.Mkdir("/" + strings.Join(parts[:len(parts)-1], "/")); err != nil {
		return err
	}
	dir, err := fs.walkDir(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	dir.children[name] = &fileNode{ino: fs.ino(), name: name, data: data, exec: exec}
	return nil
}

// InstallDev mounts a device file object at path.
func (fs *MemFs) InstallDev(path string, file File) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return kerrors.EISDIR
	}
	if err := fs.Mkdir("/" + strings.Join(parts[:len(parts)-1], "/")); err != nil {
		return err
	}
	dir, err := fs.walkDir(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	dir.children[name] = &devNode{ino: fs.ino(), name: name, file: file}
	return nil
}

// lookup resolves a path to its node.
func (fs *MemFs) lookup(path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return fs.root, nil
	}
	dir, err := fs.walkDir(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	node, ok := dir.children[parts[len(parts)-1]]
	if !ok {
		return nil, kerrors.ENOENT
	}
	return node, nil
}

// Open resolves path to a file object honouring the directory policy:
// O_DIRECTORY on a non-directory is ENOTDIR, opening a directory for
// writing is EISDIR.
func (fs *MemFs) Open(path string, flags uint64) (File, error) {
	node, err := fs.lookup(path)
	if err != nil {
		if kerrors.ErrnoFromError(err) == kerrors.ENOENT && flags&OCreat != 0 {
			if err := fs.Install(path, nil, false); err != nil {
				return nil, err
			}
			node, err = fs.lookup(path)
		}
		if err != nil {
			return nil, err
		}
	}

	switch n := node.(type) {
	case *dirNode:
		if flags&OAccMode != ORdonly {
			return nil, kerrors.EISDIR
		}
		return &dirFile{fs: fs, node: n}, nil
	case *fileNode:
		if flags&ODirectory != 0 {
			return nil, kerrors.ENOTDIR
		}
		if flags&OTrunc != 0 && flags&OAccMode != ORdonly {
			n.data = nil
		}
		return &regularFile{node: n}, nil
	case *devNode:
		if flags&ODirectory != 0 {
			return nil, kerrors.ENOTDIR
		}
		return n.file, nil
	default:
		return nil, kerrors.New(kerrors.ErrInternal, "open", "unknown node type")
	}
}

// LookupImage fetches an executable image for exec: the blob plus the
// policy errors (ENOENT, ENOTDIR on a bad path, EACCES for a
// non-executable or non-regular target).
func (fs *MemFs) LookupImage(path string) ([]byte, error) {
	node, err := fs.lookup(path)
	if err != nil {
		return nil, err
	}
	f, ok := node.(*fileNode)
	if !ok {
		return nil, kerrors.EACCES
	}
	if !f.exec {
		return nil, kerrors.EACCES
	}
	return f.data, nil
}

// regularFile is a positional view of a fileNode. The offset lives in
// the descriptor, not here, so dup'd descriptors share it.
type regularFile struct {
	node *fileNode
}

func (r *regularFile) Stat() FileInfo {
	return FileInfo{Type: TypeRegular, Size: uint64(len(r.node.data)), Name: r.node.name}
}

func (r *regularFile) Read(buf []byte, off uint64, _ bool) (int, error) {
	if off >= uint64(len(r.node.data)) {
		return 0, nil
	}
	return copy(buf, r.node.data[off:]), nil
}

func (r *regularFile) Write(data []byte, off uint64, _ bool) (int, error) {
	if need := off + uint64(len(data)); need > uint64(len(r.node.data)) {
		grown := make([]byte, need)
		copy(grown, r.node.data)
		r.node.data = grown
	}
	copy(r.node.data[off:], data)
	return len(data), nil
}

func (r *regularFile) Close() error { return nil }

// dirFile is the open view of a directory.
type dirFile struct {
	fs   *MemFs
	node *dirNode
}

func (d *dirFile) Stat() FileInfo {
	return FileInfo{Type: TypeDirectory, Size: uint64(len(d.node.children))}
}

func (d *dirFile) Read([]byte, uint64, bool) (int, error)  { return 0, kerrors.EISDIR }
func (d *dirFile) Write([]byte, uint64, bool) (int, error) { return 0, kerrors.EISDIR }
func (d *dirFile) Close() error                            { return nil }

// Entries lists the directory in name order.
func (d *dirFile) Entries() []DirEnt {
	names := make([]string, 0, len(d.node.children))
	for name := range d.node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]DirEnt, 0, len(names))
	for _, name := range names {
		var ent DirEnt
		switch n := d.node.children[name].(type) {
		case *dirNode:
			ent = DirEnt{Ino: n.ino, Type: TypeDirectory, Name: name}
		case *fileNode:
			ent = DirEnt{Ino: n.ino, Type: TypeRegular, Name: name}
		case *devNode:
			ent = DirEnt{Ino: n.ino, Type: TypeCharDev, Name: name}
		}
		entries = append(entries, ent)
	}
	return entries
}
