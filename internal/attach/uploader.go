// Package attach stages local files for sending. Staging validates the
// file and produces the descriptor used for optimistic display (an inline
// preview reference for images, a name/size line for everything else)
// without any network I/O; the actual upload happens inside the send
// pipeline's multipart request.
package attach

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lectio/messenger/internal/model"
)

// Staged is a local file validated and ready to send.
type Staged struct {
	Path        string
	FileName    string
	SizeBytes   int64
	MimeType    string
	PreviewPath string // local path usable as an image preview, "" for non-images
}

// Stage validates that the file exists and is readable, and fills in the
// descriptor fields. No bytes leave the machine.
func Stage(path string) (Staged, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Staged{}, fmt.Errorf("attach: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Staged{}, fmt.Errorf("attach: %s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Staged{}, fmt.Errorf("attach: open %s: %w", path, err)
	}
	defer f.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		// Sniff from content when the extension says nothing.
		head := make([]byte, 512)
		n, err := f.Read(head)
		if err != nil && err != io.EOF {
			return Staged{}, fmt.Errorf("attach: read %s: %w", path, err)
		}
		mimeType = http.DetectContentType(head[:n])
	}

	staged := Staged{
		Path:      path,
		FileName:  filepath.Base(path),
		SizeBytes: info.Size(),
		MimeType:  mimeType,
	}
	if strings.HasPrefix(mimeType, "image/") {
		staged.PreviewPath = path
	}
	return staged, nil
}

// Open returns a reader over the staged file for the multipart upload.
// The caller closes it when the request body has been written.
func (s Staged) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("attach: reopen %s: %w", s.Path, err)
	}
	return f, nil
}

// Descriptor returns the attachment descriptor shown optimistically
// before the server echoes its canonical one.
func (s Staged) Descriptor() model.Attachment {
	return model.Attachment{
		FileName:  s.FileName,
		SizeBytes: s.SizeBytes,
		MimeType:  s.MimeType,
		Path:      s.PreviewPath,
	}
}
