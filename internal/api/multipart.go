package api

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// FilePart is one uploaded file from a multipart body.
type FilePart struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Form holds the decoded fields and files of a multipart request.
type Form struct {
	fields map[string]string
	files  map[string]*FilePart
}

// Field returns a text field's value, or "" if absent.
func (f *Form) Field(name string) string {
	return f.fields[name]
}

// Has reports whether a text field was present, even if empty.
func (f *Form) Has(name string) bool {
	_, ok := f.fields[name]
	return ok
}

// File returns an uploaded file by field name, or nil.
func (f *Form) File(name string) *FilePart {
	return f.files[name]
}

// ParseMultipart decodes a multipart/form-data request body. It is
// deliberately tolerant of the framing quirks of embedded radio
// uploaders: bare-LF header separators and missing final CRLF.
func ParseMultipart(r *http.Request, body []byte) (*Form, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart request: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart request has no boundary")
	}

	form := &Form{
		fields: make(map[string]string),
		files:  make(map[string]*FilePart),
	}

	delim := []byte("--" + boundary)
	sections := bytes.Split(body, delim)
	for i, section := range sections {
		// First section is the preamble; the closing delimiter leaves a
		// trailing "--" section.
		if i == 0 {
			continue
		}
		trimmed := bytes.TrimLeft(section, "\r\n")
		if bytes.HasPrefix(bytes.TrimSpace(section), []byte("--")) && len(bytes.TrimSpace(trimmed)) <= 2 {
			continue
		}
		if len(trimmed) == 0 {
			continue
		}

		headerBlock, content, ok := splitPart(trimmed)
		if !ok {
			continue
		}

		name, filename, contentType := parsePartHeaders(headerBlock)
		if name == "" {
			continue
		}

		// Strip the trailing CRLF that precedes the next delimiter.
		content = bytes.TrimSuffix(content, []byte("\r\n"))
		content = bytes.TrimSuffix(content, []byte("\n"))

		if filename != "" {
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			form.files[name] = &FilePart{
				Filename:    filename,
				ContentType: contentType,
				Data:        content,
			}
		} else {
			form.fields[name] = string(content)
		}
	}

	return form, nil
}

// splitPart separates a part's header block from its content at the
// first blank line, accepting CRLF or bare LF line endings.
func splitPart(part []byte) (headers, content []byte, ok bool) {
	if idx := bytes.Index(part, []byte("\r\n\r\n")); idx >= 0 {
		return part[:idx], part[idx+4:], true
	}
	if idx := bytes.Index(part, []byte("\n\n")); idx >= 0 {
		return part[:idx], part[idx+2:], true
	}
	return nil, nil, false
}

// parsePartHeaders extracts the field name, filename, and content type
// from a part's header block.
func parsePartHeaders(block []byte) (name, filename, contentType string) {
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "content-disposition:"):
			_, params, err := mime.ParseMediaType(strings.TrimSpace(line[len("content-disposition:"):]))
			if err == nil {
				name = params["name"]
				filename = params["filename"]
			} else {
				// Fall back to manual extraction for malformed headers.
				name = extractParam(line, "name")
				filename = extractParam(line, "filename")
			}
		case strings.HasPrefix(lower, "content-type:"):
			contentType = strings.TrimSpace(line[len("content-type:"):])
		}
	}
	return name, filename, contentType
}

// extractParam pulls a key="value" or bare key=value parameter out of a
// header line. The key must start a parameter (after ';' or space) so
// "name" does not match inside "filename".
func extractParam(line, key string) string {
	for idx := 0; ; {
		found := strings.Index(line[idx:], key+"=")
		if found < 0 {
			return ""
		}
		pos := idx + found
		if pos > 0 {
			prev := line[pos-1]
			if prev != ';' && prev != ' ' && prev != '\t' {
				idx = pos + len(key)
				continue
			}
		}
		rest := line[pos+len(key)+1:]
		if strings.HasPrefix(rest, "\"") {
			rest = rest[1:]
			if end := strings.Index(rest, "\""); end >= 0 {
				return rest[:end]
			}
			return rest
		}
		if end := strings.IndexAny(rest, "; \t"); end >= 0 {
			return rest[:end]
		}
		return rest
	}
}
