package storage

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ObjectStore keeps uploaded artifacts and hands back a URL for each.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// Key builds an object key under the process folder with a time prefix so
// resubmissions never overwrite earlier files.
func Key(processID, filename string, now time.Time) string {
	name := sanitize(filepath.Base(filename))
	if name == "" || name == "." {
		name = "file"
	}
	return path.Join("processes", processID, now.UTC().Format("20060102T150405.000000000")+"-"+name)
}

// ContentType guesses a MIME type from the file extension, then from the bytes.
func ContentType(filename string, head []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return http.DetectContentType(head)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, name)
}
