package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/audit"
	"github.com/snarg/sq-engine/internal/auth"
	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/metrics"
	"github.com/snarg/sq-engine/internal/queue"
	"github.com/snarg/sq-engine/internal/ratelimit"
	"github.com/snarg/sq-engine/internal/transcribe"
	"github.com/snarg/sq-engine/internal/validate"
)

// CallStore records accepted calls. Satisfied by *database.DB.
type CallStore interface {
	CreateRadioCall(ctx context.Context, c *database.RadioCallCreate) (uuid.UUID, error)
}

// UploadHandler receives calls on the rdio-scanner compatible endpoint:
// authentication, rate limiting, file validation, then hand-off to the
// transcription queue.
type UploadHandler struct {
	auth        *auth.Authenticator
	limiter     *ratelimit.Limiter
	validator   *validate.Validator
	events      *audit.Logger
	db          CallStore
	queue       *queue.Queue
	transcriber transcribe.Transcriber
	tempDir     string
	maxBody     int64
	log         zerolog.Logger
}

func NewUploadHandler(
	a *auth.Authenticator,
	limiter *ratelimit.Limiter,
	validator *validate.Validator,
	events *audit.Logger,
	db CallStore,
	q *queue.Queue,
	t transcribe.Transcriber,
	tempDir string,
	maxBody int64,
	log zerolog.Logger,
) *UploadHandler {
	return &UploadHandler{
		auth:        a,
		limiter:     limiter,
		validator:   validator,
		events:      events,
		db:          db,
		queue:       q,
		transcriber: t,
		tempDir:     tempDir,
		maxBody:     maxBody,
		log:         log,
	}
}

// respond writes an upload response in the format the client expects:
// JSON for test tools and JSON-accepting clients, plain text otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, message, callID string) {
	if wantsJSON(r) {
		body := map[string]string{"message": message}
		if status < 400 {
			body["status"] = "ok"
			body["callId"] = callID
		} else {
			body["status"] = "error"
		}
		WriteJSON(w, status, body)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, message)
}

// clientIP takes the first X-Forwarded-For entry when it parses as an
// IP, falling back to the peer address. The header is client-supplied,
// so anything that is not an IP literal is ignored.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return "unknown"
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sourceIP := clientIP(r)
	userAgent := r.UserAgent()
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		respond(w, r, http.StatusBadRequest, "File validation failed: request body too large", "")
		return
	}

	// A parse failure leaves an empty form: the required-field checks
	// below produce the client-facing error.
	form, err := ParseMultipart(r, body)
	if err != nil {
		h.log.Warn().Err(err).Str("source_ip", sourceIP).Msg("multipart parse failed")
		form = &Form{}
	}

	system := form.Field("system")

	// Test requests short-circuit before auth so uploaders can verify
	// connectivity without a full call payload.
	if form.Field("test") != "" {
		h.log.Info().Str("system", system).Str("source_ip", sourceIP).Msg("test request received")
		respond(w, r, http.StatusOK, "incomplete call data: no talkgroup", "test")
		return
	}

	result, err := h.auth.Authenticate(ctx, auth.Request{
		APIKey:    form.Field("key"),
		SystemID:  system,
		SourceIP:  sourceIP,
		UserAgent: userAgent,
	})
	if err != nil {
		var authErr *auth.Error
		msg := "Invalid API key"
		if errors.As(err, &authErr) {
			msg = authErr.Message
		}
		metrics.UploadsTotal.WithLabelValues("unauthorized").Inc()
		respond(w, r, http.StatusUnauthorized, msg, "")
		return
	}

	audio := form.File("audio")
	switch {
	case audio == nil:
		respond(w, r, http.StatusBadRequest, "Audio file is required for non-test requests", "")
		return
	case system == "":
		respond(w, r, http.StatusBadRequest, "System ID is required", "")
		return
	case form.Field("dateTime") == "":
		respond(w, r, http.StatusBadRequest, "DateTime is required", "")
		return
	}

	// audioName/audioType, when sent, override the file part's own
	// metadata for validation, staging, and the returned call ID.
	filename := form.Field("audioName")
	if filename == "" {
		filename = audio.Filename
	}
	contentType := form.Field("audioType")
	if contentType == "" {
		contentType = audio.ContentType
	}

	if err := h.limiter.Check(sourceIP); err != nil {
		var rlErr *ratelimit.Error
		if errors.As(err, &rlErr) {
			h.events.Emit(ctx, &database.SecurityEvent{
				EventType:    audit.EventRateLimitExceeded,
				SourceIP:     sourceIP,
				SourceSystem: system,
				UserAgent:    userAgent,
				Description:  fmt.Sprintf("Rate limit exceeded: %s", rlErr.Window),
				Metadata: map[string]any{
					"limit_type":    rlErr.Window,
					"current_count": rlErr.Current,
					"limit":         rlErr.Limit,
				},
			})
		}
		h.emitUploadBlocked(r, sourceIP, system, result.APIKeyID, userAgent, filename, err.Error())
		metrics.UploadsTotal.WithLabelValues("blocked").Inc()
		respond(w, r, http.StatusBadRequest, "File validation failed: "+err.Error(), "")
		return
	}

	if err := h.validator.ValidateUpload(filename, contentType, audio.Data); err != nil {
		h.emitUploadBlocked(r, sourceIP, system, result.APIKeyID, userAgent, filename, err.Error())
		metrics.UploadsTotal.WithLabelValues("blocked").Inc()
		respond(w, r, http.StatusBadRequest, "File validation failed: "+err.Error(), "")
		return
	}

	h.events.Emit(ctx, &database.SecurityEvent{
		EventType:    audit.EventUploadSuccess,
		SourceIP:     sourceIP,
		SourceSystem: system,
		APIKeyUsed:   derefOr(result.APIKeyID, ""),
		UserAgent:    userAgent,
		Description:  "File upload succeeded",
		Metadata:     map[string]any{"file_name": filename},
	})

	if len(audio.Data) == 0 {
		respond(w, r, http.StatusBadRequest, "Empty audio file", "")
		return
	}

	call, tempPath, err := h.stageCall(form, audio, filename, sourceIP, result.APIKeyID, userAgent)
	if err != nil {
		h.log.Error().Err(err).Str("source_ip", sourceIP).Msg("failed to stage upload")
		respond(w, r, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	if _, err := h.db.CreateRadioCall(ctx, call); err != nil {
		os.Remove(tempPath)
		var storeErr *database.StoreError
		if errors.As(err, &storeErr) && storeErr.Kind == database.StoreUnavailable {
			h.log.Error().Err(err).Msg("store unavailable")
			respond(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable", "")
			return
		}
		h.log.Error().Err(err).Msg("failed to record call")
		respond(w, r, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	task := &queue.Task{Call: call, AudioPath: tempPath}
	if err := h.queue.Enqueue(task); err != nil {
		// Queue at capacity: transcribe inline rather than drop the call.
		h.log.Warn().Err(err).Str("call_id", call.CallID.String()).Msg("queue full, processing inline")
		if err := h.transcriber.Transcribe(ctx, tempPath, call); err != nil {
			h.log.Error().Err(err).Str("call_id", call.CallID.String()).Msg("inline transcription failed")
			respond(w, r, http.StatusInternalServerError, "Internal server error", "")
			return
		}
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	h.log.Info().
		Str("call_id", call.CallID.String()).
		Str("system", system).
		Str("file", filename).
		Msg("call received and queued")

	callID := filename
	if callID == "" {
		callID = "unknown"
	}
	if wantsJSON(r) {
		respond(w, r, http.StatusOK, "Call received and queued for transcription", callID)
		return
	}
	respond(w, r, http.StatusOK, "Call imported successfully.", callID)
}

func (h *UploadHandler) emitUploadBlocked(r *http.Request, sourceIP, system string, apiKeyID *string, userAgent, fileName, reason string) {
	h.events.Emit(r.Context(), &database.SecurityEvent{
		EventType:    audit.EventUploadBlocked,
		SourceIP:     sourceIP,
		SourceSystem: system,
		APIKeyUsed:   derefOr(apiKeyID, ""),
		UserAgent:    userAgent,
		Description:  "File upload blocked: " + reason,
		Metadata: map[string]any{
			"file_name": fileName,
			"reason":    reason,
		},
	})
}

// stageCall writes the audio to a temp file and builds the call record
// from the form metadata. filename is the effective upload name after
// any audioName override.
func (h *UploadHandler) stageCall(form *Form, audio *FilePart, filename, sourceIP string, apiKeyID *string, userAgent string) (*database.RadioCallCreate, string, error) {
	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create temp dir: %w", err)
	}

	suffix := strings.ToLower(filepath.Ext(filename))
	if suffix == "" {
		suffix = ".mp3"
	}
	tmp, err := os.CreateTemp(h.tempDir, "upload-*"+suffix)
	if err != nil {
		return nil, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tmp.Name()
	if _, err := tmp.Write(audio.Data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return nil, "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return nil, "", fmt.Errorf("close temp file: %w", err)
	}

	dateTime, _ := strconv.ParseInt(form.Field("dateTime"), 10, 64)

	call := &database.RadioCallCreate{
		CallID:             uuid.New(),
		Timestamp:          time.Unix(dateTime, 0).UTC(),
		Frequency:          parseInt64(form.Field("frequency")),
		TalkgroupID:        parseIntPtr(form.Field("talkgroup")),
		SourceRadioID:      parseIntPtr(form.Field("source")),
		SystemLabel:        strPtr(form.Field("systemLabel")),
		TalkgroupLabel:     strPtr(form.Field("talkgroupLabel")),
		TalkgroupGroup:     strPtr(form.Field("talkgroupGroup")),
		TalkerAlias:        strPtr(form.Field("talkerAlias")),
		AudioFilePath:      tempPath,
		AudioFormat:        suffix,
		UploadSourceIP:     sourceIP,
		UploadSourceSystem: form.Field("system"),
		UploadAPIKeyID:     apiKeyID,
		UploadUserAgent:    userAgent,
	}
	if sys := form.Field("system"); isDigits(sys) {
		n, _ := strconv.Atoi(sys)
		call.SystemID = &n
	}
	return call, tempPath, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
