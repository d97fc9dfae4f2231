package api

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseMultipartCRLF(t *testing.T) {
	body := strings.Join([]string{
		"--BOUND",
		`Content-Disposition: form-data; name="system"`,
		"",
		"100",
		"--BOUND",
		`Content-Disposition: form-data; name="dateTime"`,
		"",
		"1700000000",
		"--BOUND",
		`Content-Disposition: form-data; name="audio"; filename="call.mp3"`,
		"Content-Type: audio/mpeg",
		"",
		"ID3audio-bytes",
		"--BOUND--",
		"",
	}, "\r\n")

	r := httptest.NewRequest("POST", "/api/call-upload", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=BOUND")

	form, err := ParseMultipart(r, []byte(body))
	if err != nil {
		t.Fatalf("ParseMultipart() = %v", err)
	}

	if got := form.Field("system"); got != "100" {
		t.Errorf("system = %q, want 100", got)
	}
	if got := form.Field("dateTime"); got != "1700000000" {
		t.Errorf("dateTime = %q, want 1700000000", got)
	}

	audio := form.File("audio")
	if audio == nil {
		t.Fatal("audio file missing")
	}
	if audio.Filename != "call.mp3" {
		t.Errorf("Filename = %q, want call.mp3", audio.Filename)
	}
	if audio.ContentType != "audio/mpeg" {
		t.Errorf("ContentType = %q, want audio/mpeg", audio.ContentType)
	}
	if !bytes.Equal(audio.Data, []byte("ID3audio-bytes")) {
		t.Errorf("Data = %q", audio.Data)
	}
}

func TestParseMultipartBareLF(t *testing.T) {
	// Some embedded uploaders send bare-LF part framing.
	body := strings.Join([]string{
		"--xyz",
		`Content-Disposition: form-data; name="key"`,
		"",
		"abc123",
		"--xyz",
		`Content-Disposition: form-data; name="audio"; filename="a.mp3"`,
		"",
		"data",
		"--xyz--",
		"",
	}, "\n")

	r := httptest.NewRequest("POST", "/api/call-upload", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")

	form, err := ParseMultipart(r, []byte(body))
	if err != nil {
		t.Fatalf("ParseMultipart() = %v", err)
	}
	if got := form.Field("key"); got != "abc123" {
		t.Errorf("key = %q, want abc123", got)
	}
	audio := form.File("audio")
	if audio == nil {
		t.Fatal("audio file missing")
	}
	// No Content-Type header on the part.
	if audio.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want application/octet-stream", audio.ContentType)
	}
	if string(audio.Data) != "data" {
		t.Errorf("Data = %q, want data", audio.Data)
	}
}

func TestParseMultipartUnquotedParams(t *testing.T) {
	// Malformed disposition with unquoted parameter values.
	body := strings.Join([]string{
		"--b",
		"Content-Disposition: form-data; name=audio; filename=call.mp3",
		"",
		"x",
		"--b--",
		"",
	}, "\r\n")

	r := httptest.NewRequest("POST", "/api/call-upload", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=b")

	form, err := ParseMultipart(r, []byte(body))
	if err != nil {
		t.Fatalf("ParseMultipart() = %v", err)
	}
	audio := form.File("audio")
	if audio == nil {
		t.Fatal("audio file missing")
	}
	if audio.Filename != "call.mp3" {
		t.Errorf("Filename = %q, want call.mp3", audio.Filename)
	}
}

func TestParseMultipartErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{"not_multipart", "application/json"},
		{"no_boundary", "multipart/form-data"},
		{"empty_content_type", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/call-upload", strings.NewReader("body"))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			if _, err := ParseMultipart(r, []byte("body")); err == nil {
				t.Error("ParseMultipart() = nil, want error")
			}
		})
	}
}

func TestFormNilMaps(t *testing.T) {
	f := &Form{}
	if f.Field("x") != "" {
		t.Error("Field() on empty form should be empty")
	}
	if f.Has("x") {
		t.Error("Has() on empty form should be false")
	}
	if f.File("x") != nil {
		t.Error("File() on empty form should be nil")
	}
}

func TestExtractParam(t *testing.T) {
	tests := []struct {
		name string
		line string
		key  string
		want string
	}{
		{"quoted", `form-data; name="audio"`, "name", "audio"},
		{"unquoted", "form-data; name=audio", "name", "audio"},
		{"filename_not_name", `form-data; filename="x.mp3"`, "name", ""},
		{"both_params", `form-data; name="audio"; filename="x.mp3"`, "filename", "x.mp3"},
		{"absent", "form-data", "name", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractParam(tt.line, tt.key); got != tt.want {
				t.Errorf("extractParam(%q, %q) = %q, want %q", tt.line, tt.key, got, tt.want)
			}
		})
	}
}
