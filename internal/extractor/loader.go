package extractor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adithya11sci/genAi-idfc/internal/gcs"
)

// Loader resolves an input path to a Document.
type Loader interface {
	Load(ctx context.Context, inputPath string) (Document, error)
}

// FileLoader reads documents from the local filesystem or, for gs:// URIs,
// from Google Cloud Storage.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, inputPath string) (Document, error) {
	var (
		data []byte
		err  error
	)
	if gcs.IsURI(inputPath) {
		data, err = gcs.Fetch(ctx, inputPath)
	} else {
		data, err = os.ReadFile(inputPath)
	}
	if err != nil {
		return Document{}, fmt.Errorf("load document %s: %w", inputPath, err)
	}

	return Document{
		ID:         DocID(inputPath),
		SourcePath: inputPath,
		Data:       data,
		MIMEType:   mimeTypeFor(inputPath),
	}, nil
}

// DocID derives the stable document identifier: the base filename without
// its extension. Works for both local paths and gs:// URIs.
func DocID(inputPath string) string {
	base := path.Base(filepath.ToSlash(inputPath))
	return strings.TrimSuffix(base, path.Ext(base))
}

func mimeTypeFor(inputPath string) string {
	switch strings.ToLower(path.Ext(inputPath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
