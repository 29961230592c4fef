package reconciliation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/metrics"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/parsers"
	"settlement-reconciliation-engine/internal/ports"
	"settlement-reconciliation-engine/internal/services/matching"
	"settlement-reconciliation-engine/internal/services/resolution"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type Options struct {
	Currency       string
	Workers        int
	LockTTL        time.Duration
	MaxUploadBytes int64
	Now            func() time.Time
}

type Deps struct {
	Store     ports.Store
	Documents ports.DocumentStore
	Registry  *parsers.Registry
	Engine    *matching.Engine
	Policy    *resolution.Policy
	Logger    *zap.Logger
}

type ReconciliationService struct {
	store    ports.Store
	docs     ports.DocumentStore
	registry *parsers.Registry
	engine   *matching.Engine
	policy   *resolution.Policy
	hub      *ProgressHub
	log      *zap.Logger
	opts     Options
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewReconciliationService(deps Deps, opts Options) *ReconciliationService {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "CHF"
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationService{
		store:    deps.Store,
		docs:     deps.Documents,
		registry: deps.Registry,
		engine:   deps.Engine,
		policy:   deps.Policy,
		hub:      NewProgressHub(10 * time.Minute),
		log:      log,
		opts:     opts,
		now:      now,
	}
}

// ImportRequest is one settlement file upload.
type ImportRequest struct {
	OrganizationID string
	Filename       string
	Content        []byte
	// Source is optional; the registry sniffs the content when empty.
	Source models.SourceKind
	// Period is the accounting month (YYYY-MM). Derived from the earliest value date when empty.
	Period     string
	UploadedBy string
}

// job carries what the pipeline needs beyond the session itself.
type job struct {
	session *models.ImportSession
	file    *models.SettlementFile
	parser  parsers.Parser
	content []byte
}

// Import runs the whole pipeline synchronously and returns the final session.
func (s *ReconciliationService) Import(ctx context.Context, req ImportRequest) (*models.ImportSession, error) {
	j, replay, err := s.upload(ctx, req)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}
	s.run(ctx, j)
	return s.store.Repos().Sessions.Get(ctx, j.session.ID)
}

// Start validates and registers the upload, then runs the rest of the pipeline
// in the background. The returned session is in the upload state unless replayed.
func (s *ReconciliationService) Start(ctx context.Context, req ImportRequest) (*models.ImportSession, error) {
	j, replay, err := s.upload(ctx, req)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}
	snapshot := *j.session
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(bg, j)
	}()
	return &snapshot, nil
}

// Wait blocks until all background imports have finished.
func (s *ReconciliationService) Wait() {
	s.wg.Wait()
}

// Checksum is the sha256 of a file's bytes.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// upload detects the format, deduplicates by checksum and opens a session.
// A completed identical import is returned as replay.
func (s *ReconciliationService) upload(ctx context.Context, req ImportRequest) (*job, *models.ImportSession, error) {
	if req.OrganizationID == "" {
		return nil, nil, apperror.New(apperror.CodeValidation, "organization id is required")
	}
	if req.Period != "" && !periodPattern.MatchString(req.Period) {
		return nil, nil, apperror.Newf(apperror.CodeValidation, "period %q must be YYYY-MM", req.Period)
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(req.Content)) > s.opts.MaxUploadBytes {
		return nil, nil, apperror.Newf(apperror.CodeValidation, "file exceeds %d bytes", s.opts.MaxUploadBytes).
			WithDetail("size", len(req.Content))
	}

	parser, err := s.registry.Detect(req.Filename, req.Content, req.Source)
	if err != nil {
		metrics.RecordImport(string(req.Source), "rejected", 0)
		return nil, nil, err
	}
	source := parser.Source()
	checksum := Checksum(req.Content)
	repos := s.store.Repos()
	now := s.now()

	file, err := repos.Files.FindByChecksum(ctx, req.OrganizationID, source, checksum)
	switch {
	case err == nil:
		prev, err := repos.Sessions.LatestForFile(ctx, file.ID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return nil, nil, fmt.Errorf("loading previous session: %w", err)
		}
		if prev != nil {
			switch {
			case prev.State == models.StateCompleted:
				prev.Replayed = true
				metrics.RecordImport(string(source), "replayed", 0)
				s.log.Info("Identical settlement file replayed",
					zap.String("session_id", prev.ID.String()),
					zap.String("organization_id", req.OrganizationID),
					zap.String("checksum", checksum),
				)
				return nil, prev, nil
			case !prev.State.Terminal() && prev.UpdatedAt.Add(s.opts.LockTTL).After(now):
				metrics.RecordImport(string(source), "in_progress", 0)
				return nil, nil, apperror.New(apperror.CodeImportInProgress, "an import of this file is still running").
					WithDetail("session_id", prev.ID.String())
			case !prev.State.Terminal():
				if err := s.abandon(ctx, prev); err != nil {
					return nil, nil, err
				}
			}
		}
	case errors.Is(err, ports.ErrNotFound):
		file = &models.SettlementFile{
			ID:             uuid.New(),
			OrganizationID: req.OrganizationID,
			Source:         source,
			Checksum:       checksum,
			Filename:       req.Filename,
			Period:         req.Period,
			SizeBytes:      int64(len(req.Content)),
			UploadedBy:     req.UploadedBy,
			UploadedAt:     now,
		}
		if err := repos.Files.Create(ctx, file); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				return nil, nil, apperror.Wrap(apperror.CodeImportInProgress, "the same file is being uploaded concurrently", err)
			}
			return nil, nil, fmt.Errorf("creating settlement file: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("looking up settlement file: %w", err)
	}

	period := req.Period
	if period == "" {
		period = file.Period
	}
	session := &models.ImportSession{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		FileID:         file.ID,
		Source:         source,
		Period:         period,
		State:          models.StateUpload,
		StepMessage:    "uploaded " + req.Filename,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repos.Sessions.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("creating import session: %w", err)
	}
	s.hub.Publish(eventFromSession(session))

	s.log.Info("Settlement import started",
		zap.String("session_id", session.ID.String()),
		zap.String("organization_id", req.OrganizationID),
		zap.String("source", string(source)),
		zap.String("filename", req.Filename),
		zap.Int("size_bytes", len(req.Content)),
	)
	return &job{session: session, file: file, parser: parser, content: req.Content}, nil, nil
}

// abandon fails a session whose worker stopped updating it.
func (s *ReconciliationService) abandon(ctx context.Context, prev *models.ImportSession) error {
	if err := prev.Fail(string(apperror.CodeInternal), "import abandoned", s.now()); err != nil {
		return fmt.Errorf("abandoning session %s: %w", prev.ID, err)
	}
	prev.UpdatedAt = s.now()
	if err := s.store.Repos().Sessions.Save(ctx, prev); err != nil {
		return fmt.Errorf("abandoning session %s: %w", prev.ID, err)
	}
	s.log.Warn("Stale import session abandoned", zap.String("session_id", prev.ID.String()))
	return nil
}

// GetSession returns a session of org.
func (s *ReconciliationService) GetSession(ctx context.Context, org string, id uuid.UUID) (*models.ImportSession, error) {
	session, err := s.store.Repos().Sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperror.New(apperror.CodeNotFound, "session not found").WithDetail("session_id", id.String())
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if org != "" && session.OrganizationID != org {
		return nil, apperror.New(apperror.CodeNotFound, "session not found").WithDetail("session_id", id.String())
	}
	return session, nil
}

func (s *ReconciliationService) ListSessions(ctx context.Context, org string, limit int) ([]models.ImportSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Repos().Sessions.ListByOrganization(ctx, org, limit)
}

// GetResult returns the stored result snapshot of a completed session.
func (s *ReconciliationService) GetResult(ctx context.Context, org string, id uuid.UUID) (*models.ImportResult, error) {
	session, err := s.GetSession(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if session.State != models.StateCompleted {
		return nil, apperror.Newf(apperror.CodeSessionNotReady, "session is %s", session.State).
			WithDetail("state", string(session.State))
	}
	result, err := session.DecodeResult()
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &models.ImportResult{}
	}
	return result, nil
}

// GetProgress returns the latest progress event, from the hub while the
// import runs and from the stored session afterwards.
func (s *ReconciliationService) GetProgress(ctx context.Context, org string, id uuid.UUID) (ProgressEvent, error) {
	session, err := s.GetSession(ctx, org, id)
	if err != nil {
		return ProgressEvent{}, err
	}
	if ev, ok := s.hub.Last(id); ok {
		return ev, nil
	}
	return eventFromSession(session), nil
}

// Subscribe streams progress events of a session. The channel is closed after
// the terminal event.
func (s *ReconciliationService) Subscribe(ctx context.Context, org string, id uuid.UUID) (<-chan ProgressEvent, func(), error) {
	session, err := s.GetSession(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}
	if ch, cancel, ok := s.hub.Subscribe(id); ok {
		return ch, cancel, nil
	}
	ch := make(chan ProgressEvent, 1)
	ch <- eventFromSession(session)
	if session.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	// The session runs in another process: poll the store.
	out := make(chan ProgressEvent, subscriberBuffer)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		defer close(out)
		out <- <-ch
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, state := session.Progress, session.State
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := s.store.Repos().Sessions.Get(ctx, id)
				if err != nil {
					return
				}
				if cur.Progress < last {
					cur.Progress = last
				}
				if cur.Progress == last && cur.State == state {
					continue
				}
				last, state = cur.Progress, cur.State
				select {
				case out <- eventFromSession(cur):
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
				if cur.State.Terminal() {
					return
				}
			}
		}
	}()
	return out, func() { once.Do(func() { close(stop) }) }, nil
}
