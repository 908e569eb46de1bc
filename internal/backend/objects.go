package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// PublicObjectPrefix is the URL path under which public objects are served.
const PublicObjectPrefix = "/storage/v1/object/public/"

// FileStorage stores bucket objects as files under a root directory and
// serves them over HTTP.
type FileStorage struct {
	root       string
	publicBase string
}

// NewFileStorage creates the root directory if needed. publicBase is the
// externally reachable base URL of the HTTP server serving Handler.
func NewFileStorage(root, publicBase string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStorage{
		root:       root,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// objectPath resolves bucket/name to a file under root, rejecting anything
// that would escape it.
func (s *FileStorage) objectPath(bucket, name string) (string, error) {
	if bucket == "" || name == "" {
		return "", fmt.Errorf("%w: bucket and path are required", ErrInvalid)
	}
	clean := path.Clean("/" + bucket + "/" + name)
	if strings.Contains(bucket, "/") || !strings.HasPrefix(clean, "/"+bucket+"/") {
		return "", fmt.Errorf("%w: object path %q escapes bucket", ErrInvalid, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Upload writes the object. An existing object at the same path is an error.
func (s *FileStorage) Upload(ctx context.Context, bucket, name string, r io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectPath(bucket, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("object %s/%s: %w", bucket, name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to write object: %w", err)
	}

	log.Debug().Str("bucket", bucket).Str("path", name).Str("contentType", contentType).Int64("bytes", n).Msg("object uploaded")
	return nil
}

// PublicURL returns the URL under which Handler serves the object.
func (s *FileStorage) PublicURL(bucket, name string) string {
	segments := strings.Split(bucket+"/"+name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBase + PublicObjectPrefix + strings.Join(segments, "/")
}

// Handler serves stored objects. It expects the request path to still carry
// PublicObjectPrefix.
func (s *FileStorage) Handler() http.Handler {
	fs := http.StripPrefix(strings.TrimSuffix(PublicObjectPrefix, "/"), http.FileServer(noDirFS{http.Dir(s.root)}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

// noDirFS hides directories so bucket contents can't be listed.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
