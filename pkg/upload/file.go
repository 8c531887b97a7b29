package upload

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/trafficlens/trafficlens/pkg/errclass"
)

// ErrUnsupportedType is wrapped by every validation rejection
var ErrUnsupportedType = errclass.ErrUnsupportedFile

// AllowedTypes is the MIME allow-list for uploads
var AllowedTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"video/x-matroska",
	"video/webm",
}

var extensionTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".qt":   "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

// File is one file picked for upload
type File struct {
	Path        string
	Name        string // base name sent to the server
	VideoName   string // display name of the Video record
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileFromPath stats path and detects its content type
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return File{
		Path:        path,
		Name:        name,
		VideoName:   DefaultVideoName(name),
		ContentType: DetectContentType(name),
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// DetectContentType maps a file name to a MIME type by extension
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		return ct
	}
	return "application/octet-stream"
}

// DefaultVideoName strips the extension from a file name
func DefaultVideoName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		return name
	}
	return base
}

// Validate rejects files whose type is not on the allow-list
func Validate(f File) error {
	for _, allowed := range AllowedTypes {
		if f.ContentType == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, f.Name, f.ContentType)
}
