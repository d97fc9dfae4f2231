package validate

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// mp3Data returns n bytes starting with an ID3 tag.
func mp3Data(n int) []byte {
	b := make([]byte, n)
	copy(b, "ID3")
	return b
}

func TestValidateUploadAccepts(t *testing.T) {
	v := New(Config{MinSizeBytes: 16})

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
	}{
		{"id3_header", "call.mp3", "audio/mpeg", mp3Data(64)},
		{"frame_sync_fb", "call.mp3", "audio/mp3", append([]byte{0xFF, 0xFB}, make([]byte, 62)...)},
		{"frame_sync_fa", "call.mp3", "audio/mpeg", append([]byte{0xFF, 0xFA}, make([]byte, 62)...)},
		{"content_type_with_params", "call.mp3", "audio/mpeg; charset=binary", mp3Data(64)},
		{"uppercase_extension", "CALL.MP3", "audio/mpeg", mp3Data(64)},
		{"octet_stream_with_mp3_extension", "call.mp3", "application/octet-stream", mp3Data(64)},
		{"wrong_declared_type_with_mp3_extension", "call.mp3", "text/html", mp3Data(64)},
		{"no_content_type", "call.mp3", "", mp3Data(64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.ValidateUpload(tt.filename, tt.contentType, tt.data); err != nil {
				t.Errorf("ValidateUpload() = %v, want nil", err)
			}
		})
	}
}

func TestValidateUploadRejects(t *testing.T) {
	v := New(Config{MinSizeBytes: 16, MaxSizeBytes: 256})

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantKind    ErrorKind
		wantMsg     string
	}{
		{
			name:     "empty_filename",
			filename: "", contentType: "audio/mpeg", data: mp3Data(64),
			wantKind: KindFilename,
			wantMsg:  "File must have a filename",
		},
		{
			name:     "path_traversal",
			filename: "../../etc/passwd.mp3", contentType: "audio/mpeg", data: mp3Data(64),
			wantKind: KindFilename,
			wantMsg:  "Invalid filename: contains dangerous pattern '..'",
		},
		{
			name:     "embedded_executable_name",
			filename: "call.exe.mp3", contentType: "audio/mpeg", data: mp3Data(64),
			wantKind: KindFilename,
			wantMsg:  "Invalid filename: contains dangerous pattern '.exe'",
		},
		{
			name:     "wrong_extension",
			filename: "call.wav", contentType: "audio/mpeg", data: mp3Data(64),
			wantKind: KindExtension,
			wantMsg:  "Invalid file extension '.wav'. Allowed: .mp3",
		},
		{
			name:     "no_extension",
			filename: "call", contentType: "audio/mpeg", data: mp3Data(64),
			wantKind: KindExtension,
			wantMsg:  "Invalid file extension ''. Allowed: .mp3",
		},
		{
			name:     "empty_content",
			filename: "call.mp3", contentType: "audio/mpeg", data: nil,
			wantKind: KindSize,
			wantMsg:  "Empty file content",
		},
		{
			name:     "too_small",
			filename: "call.mp3", contentType: "audio/mpeg", data: mp3Data(15),
			wantKind: KindSize,
			wantMsg:  "File too small: 15 bytes (minimum: 16 bytes)",
		},
		{
			name:     "too_large",
			filename: "call.mp3", contentType: "audio/mpeg", data: mp3Data(257),
			wantKind: KindSize,
			wantMsg:  "File too large: 257 bytes (maximum: 256 bytes)",
		},
		{
			name:     "bad_magic",
			filename: "call.mp3", contentType: "audio/mpeg", data: bytes.Repeat([]byte{0x42}, 64),
			wantKind: KindMagic,
			wantMsg:  "Invalid MP3 file header",
		},
		{
			name:     "elf_binary",
			filename: "call.mp3", contentType: "audio/mpeg",
			data:     append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 60)...),
			wantKind: KindHostile,
			wantMsg:  "Executable file detected",
		},
		{
			name:     "pdf_document",
			filename: "call.mp3", contentType: "audio/mpeg",
			data:     append([]byte("%PDF-1.4"), make([]byte, 56)...),
			wantKind: KindHostile,
			wantMsg:  "PDF file detected",
		},
		{
			name:     "script_in_header",
			filename: "call.mp3", contentType: "audio/mpeg",
			data:     append([]byte("ID3"), []byte("<script>alert(1)</script>"+strings.Repeat("x", 64))...),
			wantKind: KindHostile,
			wantMsg:  "Script content detected in file header",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateUpload(tt.filename, tt.contentType, tt.data)
			if err == nil {
				t.Fatal("ValidateUpload() = nil, want error")
			}
			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("ValidateUpload() error type = %T, want *Error", err)
			}
			if vErr.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", vErr.Kind, tt.wantKind)
			}
			if vErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", vErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidateUploadContentTypeFallback(t *testing.T) {
	// A broader extension list exposes the case where neither the
	// declared type nor the extension guess is allowed.
	v := New(Config{
		MinSizeBytes:      16,
		AllowedExtensions: []string{".mp3", ".bin"},
	})

	if err := v.ValidateUpload("call.mp3", "application/octet-stream", mp3Data(64)); err != nil {
		t.Errorf("ValidateUpload() = %v, want nil via extension guess", err)
	}

	err := v.ValidateUpload("call.bin", "application/octet-stream", mp3Data(64))
	var vErr *Error
	if !errors.As(err, &vErr) || vErr.Kind != KindContentType {
		t.Fatalf("ValidateUpload() = %v, want content type error", err)
	}
	want := "Invalid content type 'application/octet-stream'. Allowed: audio/mp3, audio/mpeg"
	if vErr.Message != want {
		t.Errorf("Message = %q, want %q", vErr.Message, want)
	}
}

func TestValidateUploadMinimumHeader(t *testing.T) {
	v := New(Config{MinSizeBytes: 1})

	err := v.ValidateUpload("call.mp3", "audio/mpeg", mp3Data(11))
	var vErr *Error
	if !errors.As(err, &vErr) || vErr.Kind != KindMagic {
		t.Fatalf("ValidateUpload() = %v, want magic error", err)
	}
	if vErr.Message != "File too small to contain valid audio header" {
		t.Errorf("Message = %q", vErr.Message)
	}
}

func TestValidateUploadDefaults(t *testing.T) {
	v := New(Config{})

	if err := v.ValidateUpload("call.mp3", "audio/mpeg", mp3Data(1024)); err != nil {
		t.Errorf("1024-byte file rejected with defaults: %v", err)
	}
	if err := v.ValidateUpload("call.mp3", "audio/mpeg", mp3Data(1023)); err == nil {
		t.Error("1023-byte file accepted, want size error")
	}
}
