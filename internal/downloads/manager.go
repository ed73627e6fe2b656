// Package downloads turns shared links into uploaded media through short-lived,
// creator-bound sessions and an ordered list of provider strategies.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxSendBytes = 200 << 20
	defaultTimeout      = 5 * time.Minute
	defaultWorkers      = 2

	promptText       = "Choose a download format:"
	cancelledText    = "Download cancelled."
	downloadingText  = "⏳ Downloading, please wait…"
	failedText       = "❌ Could not download this link."
	oversizeText     = "⚠️ The file is %s, above the %s upload limit."
	uploadFailedText = "❌ Could not upload the file."
	notFoundText     = "This download request is no longer available."
	foreignText      = "Only the person who shared the link can choose the format."
)

const (
	opCreate  = "downloads.create"
	opConfirm = "downloads.confirm"
	opFulfill = "downloads.fulfill"
)

var (
	errMissingPlatform = errors.New("downloads: platform is required")
	errMissingStore    = errors.New("downloads: session store is required")
	errNoProviders     = errors.New("downloads: at least one provider is required")
)

// ManagerConfig describes the dependencies of the session manager.
type ManagerConfig struct {
	Platform     chat.Platform
	Store        *SessionStore
	Providers    []Provider
	IDs          IDProvider
	MaxSendBytes int64
	Timeout      time.Duration
	Workers      int64
	// ScratchDir is the parent of per-job temporary directories; empty uses os.TempDir.
	ScratchDir string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Manager creates sessions on link detection and fulfils confirmed ones on a
// bounded worker pool.
type Manager struct {
	platform     chat.Platform
	store        *SessionStore
	providers    []Provider
	ids          IDProvider
	maxSendBytes int64
	timeout      time.Duration
	slots        *semaphore.Weighted
	scratchDir   string
	clock        func() time.Time
	logger       *zap.Logger
	jobs         sync.WaitGroup
}

// Result is the terminal outcome of a job.
type Result struct {
	State    State
	Provider string
	Size     int64
	Err      error
}

// Job is a confirmed session being resolved in the background.
type Job struct {
	Session Session
	Format  Format
	done    chan struct{}
	result  Result
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome; it is only meaningful after Done is closed.
func (j *Job) Result() Result {
	<-j.done
	return j.result
}

// NewManager validates dependencies and applies defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Platform == nil {
		return nil, errMissingPlatform
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if len(cfg.Providers) == 0 {
		return nil, errNoProviders
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	maxSendBytes := cfg.MaxSendBytes
	if maxSendBytes <= 0 {
		maxSendBytes = defaultMaxSendBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		platform:     cfg.Platform,
		store:        cfg.Store,
		providers:    cfg.Providers,
		ids:          ids,
		maxSendBytes: maxSendBytes,
		timeout:      timeout,
		slots:        semaphore.NewWeighted(workers),
		scratchDir:   cfg.ScratchDir,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Create stores a session for sourceURL and prompts its creator for a format.
// The session is only stored once the prompt was delivered.
func (m *Manager) Create(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, request chat.MessageID, sourceURL string) (Session, error) {
	id, err := m.ids.NewID()
	if err != nil {
		m.logError(opCreate, "id_generation_failed", err, zap.String("conversation_id", conversation.String()))
		return Session{}, fmt.Errorf("%s: %w", opCreate, err)
	}
	session := Session{
		ID:           id,
		SourceURL:    sourceURL,
		Actor:        actor,
		Conversation: conversation,
		RequestID:    request,
		CreatedAt:    m.clock().UTC(),
	}
	prompt, err := m.platform.SendChoices(ctx, conversation, request, promptText, promptChoices(id))
	if err != nil {
		m.logError(opCreate, "prompt_failed", err, zap.String("conversation_id", conversation.String()))
		return Session{}, fmt.Errorf("%s: %w", opCreate, err)
	}
	session.PromptMessage = prompt
	m.store.Put(session)
	m.logger.Info("download session created",
		zap.String("session_id", id),
		zap.String("conversation_id", conversation.String()),
		zap.String("actor_id", actor.String()),
		zap.String("url", sourceURL))
	return session, nil
}

// Confirm consumes the session on behalf of actor. Cancellation completes
// immediately; other formats start a background job that ctx governs.
func (m *Manager) Confirm(ctx context.Context, sessionID string, format Format, actor chat.ActorID) (*Job, error) {
	session, err := m.store.Take(sessionID, actor)
	if err != nil {
		m.logger.Info("download confirmation refused",
			zap.String("session_id", sessionID),
			zap.String("actor_id", actor.String()),
			zap.Error(err))
		return nil, err
	}

	job := &Job{Session: session, Format: format, done: make(chan struct{})}
	if format == FormatCancel {
		m.notify(ctx, session, cancelledText)
		job.result = Result{State: StateCancelled}
		close(job.done)
		return job, nil
	}

	m.notify(ctx, session, downloadingText)
	m.jobs.Add(1)
	go m.run(ctx, job)
	return job, nil
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.jobs.Wait()
}

// UserMessage converts a confirmation error into the text shown to the actor.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return notFoundText
	case errors.Is(err, ErrSessionUnauthorized):
		return foreignText
	case errors.Is(err, ErrInvalidPayload):
		return notFoundText
	default:
		return ""
	}
}

func (m *Manager) run(ctx context.Context, job *Job) {
	defer m.jobs.Done()
	defer close(job.done)
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("%w: panic: %v", ErrDownloadFailed, recovered)
			m.logError(opFulfill, "panic", err, zap.String("session_id", job.Session.ID))
			job.result = Result{State: StateFailed, Err: err}
		}
	}()
	job.result = m.fulfill(ctx, job.Session, job.Format)
}

func (m *Manager) fulfill(ctx context.Context, session Session, format Format) Result {
	fields := []zap.Field{
		zap.String("session_id", session.ID),
		zap.String("conversation_id", session.Conversation.String()),
		zap.String("format", string(format)),
	}
	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.logError(opFulfill, "worker_unavailable", err, fields...)
		m.notify(ctx, session, failedText)
		return Result{State: StateFailed, Err: fmt.Errorf("%w: %v", ErrDownloadFailed, err)}
	}
	defer m.slots.Release(1)

	scratch, err := os.MkdirTemp(m.scratchDir, "warden-dl-")
	if err != nil {
		m.logError(opFulfill, "scratch_failed", err, fields...)
		m.notify(ctx, session, failedText)
		return Result{State: StateFailed, Err: fmt.Errorf("%w: %v", ErrDownloadFailed, err)}
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			m.logError(opFulfill, "cleanup_failed", err, fields...)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	path, provider, err := resolve(jobCtx, m.providers, FetchRequest{
		URL:      session.SourceURL,
		Format:   format,
		Dir:      scratch,
		MaxBytes: m.maxSendBytes,
	}, m.logger)
	if err != nil {
		m.logError(opFulfill, "download_failed", err, fields...)
		m.notify(ctx, session, failedText)
		return Result{State: StateFailed, Err: err}
	}
	fields = append(fields, zap.String("provider", provider))

	info, err := os.Stat(path)
	if err != nil {
		m.logError(opFulfill, "artifact_missing", err, fields...)
		m.notify(ctx, session, failedText)
		return Result{State: StateFailed, Provider: provider, Err: fmt.Errorf("%w: %v", ErrDownloadFailed, err)}
	}
	size := info.Size()
	if size > m.maxSendBytes {
		if err := os.Remove(path); err != nil {
			m.logError(opFulfill, "artifact_remove_failed", err, fields...)
		}
		m.logger.Info("artifact rejected by size ceiling", append(fields, zap.Int64("size", size))...)
		m.notify(ctx, session, fmt.Sprintf(oversizeText, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(m.maxSendBytes))))
		return Result{State: StateRejected, Provider: provider, Size: size, Err: ErrOversizeArtifact}
	}

	if err := m.upload(jobCtx, session, format, path, fields); err != nil {
		m.notify(ctx, session, uploadFailedText)
		return Result{State: StateFailed, Provider: provider, Size: size, Err: err}
	}
	if err := m.platform.DeleteMessage(ctx, session.Conversation, session.PromptMessage); err != nil {
		m.logger.Warn("prompt cleanup failed", append(fields, zap.Error(err))...)
	}
	m.logger.Info("download delivered", append(fields, zap.Int64("size", size))...)
	return Result{State: StateDelivered, Provider: provider, Size: size}
}

// upload sends the artifact as the requested kind, falling back to a document.
func (m *Manager) upload(ctx context.Context, session Session, format Format, path string, fields []zap.Field) error {
	kind := format.MediaKind()
	err := m.platform.UploadMedia(ctx, session.Conversation, kind, path)
	if err == nil {
		return nil
	}
	m.logger.Warn("typed upload rejected, sending as document", append(fields, zap.Error(err))...)
	if err := m.platform.UploadMedia(ctx, session.Conversation, chat.MediaDocument, path); err != nil {
		m.logError(opFulfill, "upload_failed", err, fields...)
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// notify edits the prompt, falling back to a reply when the prompt is gone.
func (m *Manager) notify(ctx context.Context, session Session, text string) {
	if session.PromptMessage != "" {
		if err := m.platform.EditText(ctx, session.Conversation, session.PromptMessage, text); err == nil {
			return
		}
	}
	if _, err := m.platform.SendText(ctx, session.Conversation, session.RequestID, text); err != nil {
		m.logError(opConfirm, "notify_failed", err,
			zap.String("session_id", session.ID),
			zap.String("conversation_id", session.Conversation.String()))
	}
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("downloads error", attrs...)
}
