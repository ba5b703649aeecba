// Package imagestore persists the uploaded originals and the annotated face
// images of a run. Every key is namespaced by the run's task id.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("image not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid image key")

// Store saves and serves images by key.
type Store interface {
	// Put writes data under key, replacing any previous content.
	Put(ctx context.Context, key string, data []byte) error
	// Open returns a reader for key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the sorted keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every key under prefix. Missing keys are not an error.
	DeletePrefix(ctx context.Context, prefix string) error
}

// OriginalKey returns the key of the uploaded image at imageIndex within a task.
// The index keeps same-named uploads apart.
func OriginalKey(taskID string, imageIndex int, name string) string {
	return path.Join(taskID, "img"+strconv.Itoa(imageIndex)+"_"+SanitizeName(name))
}

// AnnotatedKey returns the key of the image with a single face box drawn on it.
func AnnotatedKey(taskID, faceID string) string {
	return path.Join(taskID, faceID+"_boxed.jpg")
}

// SanitizeName turns an uploaded file name into a safe single path segment
// (e.g., "../Jiří Novák.JPG" -> "Jiri_Novak.JPG").
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "/" || name == "." {
		return "image"
	}
	name = removeDiacritics(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}

// removeDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// cleanKey validates a key and returns it in canonical slash form.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(key, `\`, "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if cleaned != strings.Trim(strings.ReplaceAll(key, `\`, "/"), "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// ContentType guesses the MIME type from a key's extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
