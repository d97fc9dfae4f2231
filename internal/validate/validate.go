// Package validate screens uploaded audio files before they touch disk
// or the transcription queue. Checks run cheapest-first: filename, then
// declared metadata, then content inspection.
package validate

import (
	"bytes"
	"fmt"
	"strings"
)

// ErrorKind classifies which check rejected the upload.
type ErrorKind string

const (
	KindFilename    ErrorKind = "filename"
	KindExtension   ErrorKind = "extension"
	KindContentType ErrorKind = "content_type"
	KindSize        ErrorKind = "size"
	KindMagic       ErrorKind = "magic"
	KindHostile     ErrorKind = "hostile_content"
)

// Error is a rejection with a client-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Config bounds what the validator accepts. Zero values take defaults.
type Config struct {
	MinSizeBytes      int64
	MaxSizeBytes      int64
	AllowedExtensions []string
	AllowedMIMETypes  []string
}

func (c Config) withDefaults() Config {
	if c.MinSizeBytes <= 0 {
		c.MinSizeBytes = 1024
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 100 * 1024 * 1024
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{".mp3"}
	}
	if len(c.AllowedMIMETypes) == 0 {
		c.AllowedMIMETypes = []string{"audio/mp3", "audio/mpeg"}
	}
	return c
}

// dangerousPatterns are substrings that indicate path traversal or a
// disguised executable in a client-supplied filename.
var dangerousPatterns = []string{
	"..", "/", "\\", ":", "*", "?", "\"", "<", ">", "|",
	".exe", ".bat", ".cmd", ".scr", ".pif", ".com",
}

// mp3Magics are the accepted leading bytes: ID3v2 tag or a bare MPEG
// frame sync (layer III, with or without CRC).
var mp3Magics = [][]byte{
	[]byte("ID3"),
	{0xFF, 0xFB},
	{0xFF, 0xFA},
}

// Validator applies the configured checks to one upload at a time.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

// ValidateUpload runs all checks in order and returns the first failure
// as an *Error. A nil return means the file is accepted.
func (v *Validator) ValidateUpload(filename, contentType string, data []byte) error {
	if err := v.checkFilename(filename); err != nil {
		return err
	}
	if err := v.checkExtension(filename); err != nil {
		return err
	}
	if err := v.checkContentType(filename, contentType); err != nil {
		return err
	}
	if err := v.checkSize(data); err != nil {
		return err
	}
	if err := v.checkHostile(data); err != nil {
		return err
	}
	return v.checkMagic(data)
}

func (v *Validator) checkFilename(filename string) error {
	if filename == "" {
		return &Error{Kind: KindFilename, Message: "File must have a filename"}
	}
	lower := strings.ToLower(filename)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return &Error{
				Kind:    KindFilename,
				Message: fmt.Sprintf("Invalid filename: contains dangerous pattern '%s'", p),
			}
		}
	}
	return nil
}

func (v *Validator) checkExtension(filename string) error {
	lower := strings.ToLower(filename)
	idx := strings.LastIndex(lower, ".")
	ext := ""
	if idx >= 0 {
		ext = lower[idx:]
	}
	if !containsFold(v.cfg.AllowedExtensions, ext) {
		return &Error{
			Kind: KindExtension,
			Message: fmt.Sprintf("Invalid file extension '%s'. Allowed: %s",
				ext, strings.Join(v.cfg.AllowedExtensions, ", ")),
		}
	}
	return nil
}

// typeByExtension maps audio extensions to the MIME type an uploader
// would conventionally declare for them.
var typeByExtension = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/x-wav",
	".m4a": "audio/mp4",
}

func (v *Validator) checkContentType(filename, contentType string) error {
	// Strip any parameters like "; charset=..."
	base := contentType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" || containsFold(v.cfg.AllowedMIMETypes, base) {
		return nil
	}
	// Uploaders that send a generic type (or none, which the multipart
	// parser defaults) still pass when the extension-derived guess is
	// an allowed type.
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		guess := typeByExtension[strings.ToLower(filename[idx:])]
		if guess != "" && containsFold(v.cfg.AllowedMIMETypes, guess) {
			return nil
		}
	}
	return &Error{
		Kind: KindContentType,
		Message: fmt.Sprintf("Invalid content type '%s'. Allowed: %s",
			contentType, strings.Join(v.cfg.AllowedMIMETypes, ", ")),
	}
}

func (v *Validator) checkSize(data []byte) error {
	size := int64(len(data))
	if size == 0 {
		return &Error{Kind: KindSize, Message: "Empty file content"}
	}
	if size < v.cfg.MinSizeBytes {
		return &Error{
			Kind: KindSize,
			Message: fmt.Sprintf("File too small: %d bytes (minimum: %d bytes)",
				size, v.cfg.MinSizeBytes),
		}
	}
	if size > v.cfg.MaxSizeBytes {
		return &Error{
			Kind: KindSize,
			Message: fmt.Sprintf("File too large: %d bytes (maximum: %d bytes)",
				size, v.cfg.MaxSizeBytes),
		}
	}
	return nil
}

func (v *Validator) checkMagic(data []byte) error {
	if len(data) < 12 {
		return &Error{Kind: KindMagic, Message: "File too small to contain valid audio header"}
	}
	for _, magic := range mp3Magics {
		if bytes.HasPrefix(data, magic) {
			return nil
		}
	}
	return &Error{Kind: KindMagic, Message: "Invalid MP3 file header"}
}

func (v *Validator) checkHostile(data []byte) error {
	if bytes.HasPrefix(data, []byte{0x7F, 'E', 'L', 'F'}) {
		return &Error{Kind: KindHostile, Message: "Executable file detected"}
	}
	if bytes.HasPrefix(data, []byte{0xCA, 0xFE, 0xBA, 0xBE}) {
		return &Error{Kind: KindHostile, Message: "Java class file detected"}
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return &Error{Kind: KindHostile, Message: "PDF file detected"}
	}

	head := data
	if len(head) > 64 {
		head = head[:64]
	}
	lower := strings.ToLower(string(head))
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return &Error{Kind: KindHostile, Message: "Script content detected in file header"}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
