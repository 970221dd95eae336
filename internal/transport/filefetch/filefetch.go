// Package filefetch serves off-package modules from a file system.
package filefetch

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/specialistvlad/lazymod/internal/loader"
)

// Transport reads module names as slash-separated paths inside an fs.FS.
type Transport struct {
	fsys fs.FS
}

var _ loader.Transport = (*Transport)(nil)

// New serves modules from fsys.
func New(fsys fs.FS) *Transport {
	return &Transport{fsys: fsys}
}

// NewDir serves modules from a directory on disk.
func NewDir(dir string) *Transport {
	return New(os.DirFS(dir))
}

// Fetch reads the file. The content type is derived from the extension.
func (t *Transport) Fetch(ctx context.Context, req loader.Request) (*loader.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := path.Clean(strings.TrimPrefix(req.Name, "./"))
	name = strings.TrimPrefix(name, "/")
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("module %q: %w", req.Name, fs.ErrInvalid)
	}

	body, err := fs.ReadFile(t.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %q: %w", req.Name, err)
	}
	return &loader.Response{Body: body, ContentType: mime.TypeByExtension(path.Ext(name))}, nil
}
