package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"qmaster-service/internal/domain"
)

// JobConfig bounds the generation workers.
type JobConfig struct {
	// Workers is the number of jobs generated concurrently.
	Workers int
	// MaxProcessing is how long a job may stay in processing.
	MaxProcessing time.Duration
	// MaxPending is how long a job may wait for a worker slot.
	MaxPending time.Duration
	// MaxWords caps text payloads.
	MaxWords int
}

func DefaultJobConfig() JobConfig {
	return JobConfig{Workers: 4, MaxProcessing: 5 * time.Minute, MaxPending: 30 * time.Minute, MaxWords: 3000}
}

// CreateJobRequest is what an owner submits to start generation.
type CreateJobRequest struct {
	OwnerID    string                  `json:"ownerId" validate:"required"`
	Subject    string                  `json:"subject" validate:"required"`
	SourceKind domain.SourceKind       `json:"sourceKind" validate:"required,source_kind"`
	Payload    []byte                  `json:"-"`
	Params     domain.GenerationParams `json:"params"`
}

// JobOption customises a JobManager.
type JobOption func(*JobManager)

// WithNotifier registers where transitions are announced.
func WithNotifier(n JobNotifier) JobOption {
	return func(m *JobManager) { m.notifier = n }
}

// WithSubscriber sets the source of push updates for Subscribe.
func WithSubscriber(s StatusSubscriber) JobOption {
	return func(m *JobManager) { m.subscriber = s }
}

// WithJobClock is for tests that need deterministic timestamps.
func WithJobClock(now func() time.Time) JobOption {
	return func(m *JobManager) { m.now = now }
}

// JobManager owns the upload job lifecycle: it accepts jobs, runs generation in the background
// and moves each job forward exactly once through pending, processing and a terminal state.
type JobManager struct {
	jobs       JobRepository
	pools      PoolRepository
	generator  Generator
	extractor  TextExtractor
	notifier   JobNotifier
	subscriber StatusSubscriber
	validate   *validator.Validate
	logger     *zap.Logger
	cfg        JobConfig
	now        func() time.Time

	sem   *semaphore.Weighted
	locks *KeyedMutex
	wg    sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

func NewJobManager(jobs JobRepository, pools PoolRepository, generator Generator, extractor TextExtractor, cfg JobConfig, logger *zap.Logger, opts ...JobOption) *JobManager {
	def := DefaultJobConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxProcessing <= 0 {
		cfg.MaxProcessing = def.MaxProcessing
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = def.MaxWords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	hub := NewStatusHub()
	m := &JobManager{
		jobs:       jobs,
		pools:      pools,
		generator:  generator,
		extractor:  extractor,
		notifier:   hub,
		subscriber: hub,
		validate:   newValidator(),
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		locks:      NewKeyedMutex(),
		baseCtx:    baseCtx,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates the request, persists a pending job and schedules generation.
// It returns as soon as the job is stored.
func (m *JobManager) Create(ctx context.Context, req CreateJobRequest) (string, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if err := validateStruct(m.validate, req); err != nil {
		return "", err
	}
	if len(req.Payload) == 0 {
		return "", domain.NewValidationError("payload", "is required")
	}
	if req.SourceKind == domain.SourceText {
		text := strings.TrimSpace(string(req.Payload))
		if text == "" {
			return "", domain.NewValidationError("payload", "is required")
		}
		if words := len(strings.Fields(text)); words > m.cfg.MaxWords {
			return "", domain.NewValidationError("payload", fmt.Sprintf("exceeds %d words limit (got %d)", m.cfg.MaxWords, words))
		}
	}

	job := domain.UploadJob{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Subject:    req.Subject,
		SourceKind: req.SourceKind,
		State:      domain.JobPending,
		Params:     req.Params,
		CreatedAt:  m.now(),
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	jobTransitions.WithLabelValues(string(domain.JobPending)).Inc()
	m.notifier.JobChanged(ctx, job)
	m.logger.Info("job accepted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("source_kind", string(job.SourceKind)),
		zap.Int("payload_bytes", len(req.Payload)),
	)

	payload := make([]byte, len(req.Payload))
	copy(payload, req.Payload)

	m.wg.Add(1)
	go m.run(job, payload)
	return job.ID, nil
}

// GetStatus returns the job's status to its owner. Unknown ids are reported before ownership.
func (m *JobManager) GetStatus(ctx context.Context, jobID, requesterID string) (domain.JobStatus, error) {
	job, err := m.authorize(ctx, jobID, requesterID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return job.Status(), nil
}

func (m *JobManager) authorize(ctx context.Context, jobID, requesterID string) (domain.UploadJob, error) {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.UploadJob{}, err
	}
	if job.OwnerID != requesterID {
		return domain.UploadJob{}, domain.ErrJobAccessDenied
	}
	return job, nil
}

// Subscribe streams the job's status to its owner, starting with the current snapshot.
// The channel closes after a terminal status or when cancel is called.
func (m *JobManager) Subscribe(ctx context.Context, jobID, requesterID string) (<-chan domain.JobStatus, func(), error) {
	if _, err := m.authorize(ctx, jobID, requesterID); err != nil {
		return nil, nil, err
	}
	updates, unsubscribe, err := m.subscriber.Subscribe(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	// Re-read after subscribing so a transition between the two calls is not lost.
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		unsubscribe()
		return nil, nil, err
	}

	out := make(chan domain.JobStatus, 4)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}

	go func() {
		defer close(out)
		last := job.State
		select {
		case out <- job.Status():
		case <-done:
			return
		}
		for !last.Terminal() {
			select {
			case st, ok := <-updates:
				if !ok {
					return
				}
				if !last.CanTransition(st.State) {
					// An intermediate update went missing; the store decides what comes next.
					var advanced bool
					if st, advanced = m.catchUp(ctx, jobID, last, st); !advanced {
						continue
					}
				}
				last = st.State
				select {
				case out <- st:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return out, cancel, nil
}

// catchUp resolves an update that does not directly follow last by re-reading the job. It reports
// false when the job has not moved past last. A terminal update is trusted if the re-read fails.
func (m *JobManager) catchUp(ctx context.Context, jobID string, last domain.JobState, update domain.JobStatus) (domain.JobStatus, bool) {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		m.logger.Warn("re-read job for status stream", zap.String("job_id", jobID), zap.Error(err))
		if update.State.Terminal() && !last.Terminal() {
			return update, true
		}
		return domain.JobStatus{}, false
	}
	if stateRank(job.State) <= stateRank(last) {
		return domain.JobStatus{}, false
	}
	return job.Status(), true
}

func stateRank(s domain.JobState) int {
	switch s {
	case domain.JobPending:
		return 0
	case domain.JobProcessing:
		return 1
	default:
		return 2
	}
}

// Shutdown stops accepting new generation work and waits for workers to finish.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *JobManager) run(job domain.UploadJob, payload []byte) {
	defer m.wg.Done()
	if err := m.sem.Acquire(m.baseCtx, 1); err != nil {
		m.fail(context.WithoutCancel(m.baseCtx), job.ID, domain.JobPending, "generation cancelled before it started")
		return
	}
	defer m.sem.Release(1)
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()
	m.process(m.baseCtx, job, payload)
}

func (m *JobManager) process(ctx context.Context, job domain.UploadJob, payload []byte) {
	unlock := m.locks.Lock(job.ID)
	defer unlock()
	// Store writes outlive shutdown cancellation so the job still reaches a terminal state.
	storeCtx := context.WithoutCancel(ctx)
	logger := m.logger.With(zap.String("job_id", job.ID))

	started, err := m.transition(storeCtx, job.ID, domain.JobTransition{From: domain.JobPending, To: domain.JobProcessing})
	if err != nil {
		logger.Warn("job not started", zap.Error(err))
		return
	}

	begin := time.Now()
	items, err := m.generate(ctx, started, payload)
	generationDuration.Observe(time.Since(begin).Seconds())
	if err != nil {
		logger.Warn("generation failed", zap.Error(err))
		m.fail(storeCtx, job.ID, domain.JobProcessing, err.Error())
		return
	}

	pool := m.buildPool(started, items)
	counts := countValid(pool.Items)
	if counts.MCQ+counts.Descriptive == 0 {
		m.fail(storeCtx, job.ID, domain.JobProcessing, "failed to generate any valid questions")
		return
	}
	if err := m.pools.CreatePool(storeCtx, pool); err != nil {
		logger.Error("store pool", zap.Error(err))
		m.fail(storeCtx, job.ID, domain.JobProcessing, "failed to store generated questions")
		return
	}
	if _, err := m.transition(storeCtx, job.ID, domain.JobTransition{
		From:         domain.JobProcessing,
		To:           domain.JobCompleted,
		ResultPoolID: pool.ID,
	}); err != nil {
		// The sweeper failed the job first; the pool would be unreachable.
		logger.Warn("job completion lost", zap.Error(err))
		if derr := m.pools.DeletePool(storeCtx, pool.ID); derr != nil {
			logger.Error("delete orphaned pool", zap.String("pool_id", pool.ID), zap.Error(derr))
		}
		return
	}
	logger.Info("job completed",
		zap.String("pool_id", pool.ID),
		zap.Int("valid_mcq", counts.MCQ),
		zap.Int("valid_descriptive", counts.Descriptive),
		zap.Int("invalid", len(pool.Items)-counts.MCQ-counts.Descriptive),
	)
}

type generation struct {
	items []domain.QuestionItem
	err   error
}

// generate runs extraction and generation under the processing deadline. The worker stops
// waiting at the deadline even if the generator ignores its context.
func (m *JobManager) generate(ctx context.Context, job domain.UploadJob, payload []byte) ([]domain.QuestionItem, error) {
	runCtx, cancel := context.WithTimeout(ctx, m.cfg.MaxProcessing)
	defer cancel()

	result := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- generation{err: fmt.Errorf("generation crashed: %v", r)}
			}
		}()
		text, err := m.extractor.Extract(runCtx, job.SourceKind, payload)
		if err != nil {
			result <- generation{err: err}
			return
		}
		if strings.TrimSpace(text) == "" {
			result <- generation{err: errors.New("no readable text found in the upload")}
			return
		}
		items, err := m.generator.Generate(runCtx, GenerationRequest{
			JobID:   job.ID,
			Subject: job.Subject,
			Text:    text,
			Params:  job.Params,
		})
		result <- generation{items: items, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, m.timeoutError()
		}
		if res.err == nil && len(res.items) == 0 {
			return nil, errors.New("failed to generate any questions")
		}
		return res.items, res.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, m.timeoutError()
		}
		return nil, errors.New("generation cancelled: service shutting down")
	}
}

func (m *JobManager) timeoutError() error {
	return fmt.Errorf("generation timed out after %s", m.cfg.MaxProcessing)
}

func (m *JobManager) buildPool(job domain.UploadJob, items []domain.QuestionItem) domain.Pool {
	pool := domain.Pool{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Subject:   job.Subject,
		Items:     make([]domain.QuestionItem, 0, len(items)),
		CreatedAt: m.now(),
	}
	for _, item := range items {
		item.ID = uuid.NewString()
		item.PoolID = pool.ID
		item.Subject = job.Subject
		item.Invalidated = false
		if item.Marks <= 0 {
			switch item.Kind {
			case domain.KindMCQ:
				item.Marks = job.Params.MCQMarks
			case domain.KindDescriptive:
				item.Marks = job.Params.DescriptiveMarks
			}
		}
		pool.Items = append(pool.Items, item)
	}
	return pool
}

func (m *JobManager) transition(ctx context.Context, jobID string, t domain.JobTransition) (domain.UploadJob, error) {
	if t.At.IsZero() {
		t.At = m.now()
	}
	job, err := m.jobs.Transition(ctx, jobID, t)
	if err != nil {
		return domain.UploadJob{}, err
	}
	jobTransitions.WithLabelValues(string(t.To)).Inc()
	m.notifier.JobChanged(ctx, job)
	return job, nil
}

func (m *JobManager) fail(ctx context.Context, jobID string, from domain.JobState, message string) {
	if _, err := m.transition(ctx, jobID, domain.JobTransition{From: from, To: domain.JobFailed, ErrorMessage: message}); err != nil {
		m.logger.Warn("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Sweep force-fails jobs that stayed pending or processing past their limits. Jobs whose
// worker is alive in this process are left alone: the worker enforces its own deadline.
func (m *JobManager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	swept := 0
	limits := []struct {
		state   domain.JobState
		limit   time.Duration
		message string
	}{
		{domain.JobProcessing, m.cfg.MaxProcessing, fmt.Sprintf("generation timed out after %s", m.cfg.MaxProcessing)},
		{domain.JobPending, m.cfg.MaxPending, fmt.Sprintf("job was not picked up within %s", m.cfg.MaxPending)},
	}
	for _, l := range limits {
		stale, err := m.jobs.ListStale(ctx, l.state, now.Add(-l.limit))
		if err != nil {
			return swept, fmt.Errorf("list stale %s jobs: %w", l.state, err)
		}
		for _, job := range stale {
			unlock, ok := m.locks.TryLock(job.ID)
			if !ok {
				continue
			}
			_, err := m.transition(ctx, job.ID, domain.JobTransition{From: l.state, To: domain.JobFailed, ErrorMessage: l.message})
			unlock()
			if errors.Is(err, domain.ErrJobStateConflict) {
				continue
			}
			if err != nil {
				return swept, fmt.Errorf("fail stale job %s: %w", job.ID, err)
			}
			swept++
			sweptJobs.WithLabelValues(string(l.state)).Inc()
			m.logger.Warn("stale job failed", zap.String("job_id", job.ID), zap.String("state", string(l.state)))
		}
	}
	return swept, nil
}
