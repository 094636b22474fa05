// ABOUTME: Avatar file storage and public URL resolution
// ABOUTME: Stores uploads under uuid filenames with content-sniffed extensions

package avatars

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrUnsupportedType is returned when an upload is not a recognized image format.
var ErrUnsupportedType = errors.New("unsupported avatar file type")

// PublicPrefix is the URL path avatars are served under.
const PublicPrefix = "/avatars/"

// Service stores avatar files on disk and resolves their public URLs.
type Service struct {
	dir string
}

// New creates the storage directory if needed and returns a Service.
func New(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating avatar directory: %w", err)
	}
	return &Service{dir: dir}, nil
}

// Save writes the uploaded bytes under a generated filename and returns
// that filename. The extension comes from content sniffing, not from the
// client-supplied name.
func (s *Service) Save(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", ErrUnsupportedType
	}

	ext := mt.Extension()
	if ext == "" {
		ext = ".png"
	}

	fileName := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(s.dir, fileName), data, 0644); err != nil {
		return "", fmt.Errorf("writing avatar file: %w", err)
	}
	return fileName, nil
}

// PublicURL returns the serving path for a stored file name, or "" when
// the user has no avatar.
func (s *Service) PublicURL(fileName string) string {
	if fileName == "" {
		return ""
	}
	return PublicPrefix + fileName
}

// Handler serves the avatar directory.
func (s *Service) Handler() http.Handler {
	return http.StripPrefix(PublicPrefix, http.FileServer(http.Dir(s.dir)))
}
