// Package filestore persists relayed file blobs inside a single upload
// directory. Client supplied names are reduced to a safe base name and every
// write goes through an os.Root, so no name can reach outside the directory.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest stored file name in bytes.
const MaxNameLength = 255

var (
	ErrInvalidName      = errors.New("filestore: invalid file name")
	ErrMalformedPayload = errors.New("filestore: malformed file payload")
	ErrTooLarge         = errors.New("filestore: file too large")
)

// Encode returns the transport encoding of raw file bytes.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode turns a transport-encoded payload back into raw bytes. Payloads
// that would decode to more than maxSize bytes are refused before any
// decoding work; maxSize <= 0 disables the check.
func Decode(encoded string, maxSize int64) ([]byte, error) {
	if maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxSize+2 {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxSize)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxSize)
	}
	return data, nil
}

// SanitizeName reduces a client supplied name to a single path element:
// directories are stripped, control characters removed, leading dots
// trimmed and the result capped at MaxNameLength bytes.
func SanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")

	for len(name) > MaxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}

	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Store writes blobs into one directory.
type Store struct {
	dir  string
	root *os.Root
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", dir, err)
	}
	return &Store{dir: dir, root: root}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data under the sanitized form of name and returns that name.
// An existing file with the same name is replaced. Save gives up when ctx
// ends; a write still in flight may leave a temporary file behind.
func (s *Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	stored, err := SanitizeName(name)
	if err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.write(stored, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		slog.Debug("file stored", "name", stored, "bytes", len(data))
		return stored, nil
	case <-ctx.Done():
		return "", fmt.Errorf("filestore: save %s: %w", stored, ctx.Err())
	}
}

func (s *Store) write(name string, data []byte) error {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Errorf("filestore: temp name: %w", err)
	}
	tmp := "." + name + "." + hex.EncodeToString(suffix) + ".part"
	if len(tmp) > MaxNameLength {
		tmp = "." + hex.EncodeToString(suffix) + ".part"
	}

	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("filestore: create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("filestore: close %s: %w", name, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("filestore: rename %s: %w", name, err)
	}
	return nil
}

// Read returns the stored content of name.
func (s *Store) Read(name string) ([]byte, error) {
	stored, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(stored)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", stored, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", stored, err)
	}
	return data, nil
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}
