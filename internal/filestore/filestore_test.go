package filestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	large := make([]byte, 3<<20+1)
	if _, err := rand.Read(large); err != nil {
		t.Fatal(err)
	}

	tests := map[string][]byte{
		"empty":  {},
		"text":   []byte("hello, world"),
		"binary": {0x00, 0xff, 0x10, 0x80, 0x7f},
		"large":  large,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(Encode(data), 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("round trip changed %d bytes of content", len(data))
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, input := range []string{"not base64!", "abc", "====", "aGVsbG8=x"} {
		if _, err := Decode(input, 0); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedPayload", input, err)
		}
	}
}

func TestDecodeSizeLimit(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 100)

	if _, err := Decode(Encode(data), 100); err != nil {
		t.Fatalf("payload at limit rejected: %v", err)
	}
	if _, err := Decode(Encode(data), 99); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	if _, err := Decode(Encode(bytes.Repeat(data, 10)), 99); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge before decoding", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `..\..\windows\system32\cmd.exe`, want: "cmd.exe"},
		{in: "/abs/path/img.png", want: "img.png"},
		{in: ".hidden", want: "hidden"},
		{in: "bad\x00name\n.txt", want: "badname.txt"},
		{in: "фото.jpg", want: "фото.jpg"},
		{in: "..", wantErr: true},
		{in: "dir/", wantErr: true},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := SanitizeName(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("SanitizeName(%q) error = %v, want ErrInvalidName", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeName(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeNameCapsLength(t *testing.T) {
	got, err := SanitizeName(strings.Repeat("я", 300))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > MaxNameLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxNameLength)
	}
	if !strings.HasPrefix(strings.Repeat("я", 300), got) {
		t.Error("truncation split a multi-byte rune")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveAndOverwrite(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	name, err := st.Save(ctx, "notes.txt", []byte("first"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "notes.txt" {
		t.Errorf("stored name = %q", name)
	}

	if _, err := st.Save(ctx, "notes.txt", []byte("second")); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, err := st.Read("notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}

	entries, err := os.ReadDir(st.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("upload dir has %d entries, want 1", len(entries))
	}
}

func TestSaveStaysInsideUploadDir(t *testing.T) {
	base := t.TempDir()
	st, err := Open(filepath.Join(base, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()

	name, err := st.Save(context.Background(), "../escape.txt", []byte("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "escape.txt" {
		t.Errorf("stored name = %q", name)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Error("file escaped the upload directory")
	}
	if _, err := os.Stat(filepath.Join(base, "uploads", "escape.txt")); err != nil {
		t.Errorf("file missing from upload directory: %v", err)
	}
}

func TestSaveEmptyFile(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Save(context.Background(), "empty.bin", nil); err != nil {
		t.Fatal(err)
	}
	got, err := st.Read("empty.bin")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestSaveHonoursContext(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	// The write may win the race on a fast disk; only a reported failure
	// must carry the context error.
	if _, err := st.Save(ctx, "late.txt", []byte("x")); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestSaveRejectsInvalidName(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Save(context.Background(), "..", []byte("x")); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("error = %v, want ErrInvalidName", err)
	}
}
