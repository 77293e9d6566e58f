package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

var (
	errCancelledByCaller = errors.New("cancelled by caller")
	errJobTimeout        = errors.New("job timeout exceeded")
	errShutdown          = errors.New("service shutting down")
)

// bytesPerPrime is the size of one retained result value.
const bytesPerPrime = strconv.IntSize / 8

type PrimeServiceConfig struct {
	MaxConcurrent int           // in-flight jobs; <= 0 means 1
	MemoryBudget  int64         // marker bytes of in-flight jobs plus retained results; <= 0 means unlimited
	JobTimeout    time.Duration // 0 disables
	Retention     time.Duration // how long finished jobs stay queryable in memory
	SweepInterval time.Duration // period of Run; <= 0 means Retention/2, at least a second
}

// PrimeService runs prime generation jobs. Each job owns its own sieve; the
// service only tracks handles, admission limits and outcomes.
type PrimeService struct {
	generator domain.PrimeGenerator
	hasher    domain.Hasher
	broker    domain.MessageBroker
	store     domain.JobStore
	cfg       PrimeServiceConfig
	now       func() time.Time

	mu       sync.Mutex
	jobs     map[string]*job
	inFlight int
	reserved int64
	wg       sync.WaitGroup
}

type job struct {
	mu     sync.Mutex
	snap   domain.Job
	primes []int
	err    error
	// retained counts against PrimeService.reserved until the job is swept.
	retained int64
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewPrimeService(gen domain.PrimeGenerator, hasher domain.Hasher, broker domain.MessageBroker, store domain.JobStore, cfg PrimeServiceConfig) *PrimeService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = max(cfg.Retention/2, time.Second)
	}
	return &PrimeService{
		generator: gen,
		hasher:    hasher,
		broker:    broker,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		jobs:      make(map[string]*job),
	}
}

// Generate starts a job and waits for its outcome. If ctx ends first the job
// is cancelled and ErrCancelled is returned.
func (s *PrimeService) Generate(ctx context.Context, bound, chunkSize int) (domain.Job, error) {
	j, err := s.start(ctx, bound, chunkSize)
	if err != nil {
		return domain.Job{}, err
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		j.cancel(context.Cause(ctx))
		<-j.done
	}
	return j.result(true)
}

// Start admits a job and returns its handle without waiting.
func (s *PrimeService) Start(ctx context.Context, bound, chunkSize int) (domain.Job, error) {
	j, err := s.start(ctx, bound, chunkSize)
	if err != nil {
		return domain.Job{}, err
	}
	return j.snapshot(false), nil
}

// Wait blocks until the job finishes or ctx ends. A job that finished other
// than completed returns its error alongside the snapshot.
func (s *PrimeService) Wait(ctx context.Context, id string, withPrimes bool) (domain.Job, error) {
	j, ok := s.lookup(id)
	if !ok {
		job, err := s.archived(ctx, id)
		if err != nil {
			return domain.Job{}, err
		}
		return job, archivedErr(job)
	}
	select {
	case <-j.done:
		return j.result(withPrimes)
	case <-ctx.Done():
		return j.snapshot(false), ctx.Err()
	}
}

// Get returns the current state of a job, falling back to the archive for
// jobs no longer held in memory.
func (s *PrimeService) Get(ctx context.Context, id string, withPrimes bool) (domain.Job, error) {
	if j, ok := s.lookup(id); ok {
		return j.snapshot(withPrimes), nil
	}
	return s.archived(ctx, id)
}

// Cancel signals the cancellation flag of a running job. Cancelling a
// finished job is a no-op.
func (s *PrimeService) Cancel(ctx context.Context, id string) error {
	j, ok := s.lookup(id)
	if !ok {
		_, err := s.archived(ctx, id)
		return err
	}
	j.cancel(errCancelledByCaller)
	log.WithCtx(ctx).Info("Job cancellation requested", zap.String("job_id", id))
	return nil
}

// List returns running jobs newest first, then finished jobs most recently
// finished first. Finished jobs still held in memory are merged with the
// archive.
func (s *PrimeService) List(ctx context.Context, limit int) ([]domain.Job, error) {
	var running, finished []domain.Job
	held := make(map[string]struct{})
	s.mu.Lock()
	for id, j := range s.jobs {
		snap := j.snapshot(false)
		if snap.Status.Terminal() {
			finished = append(finished, snap)
			held[id] = struct{}{}
		} else {
			running = append(running, snap)
		}
	}
	s.mu.Unlock()

	records, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if _, ok := held[rec.ID]; !ok {
			finished = append(finished, fromRecord(rec))
		}
	}

	sort.Slice(running, func(a, b int) bool { return running[a].CreatedAt.After(running[b].CreatedAt) })
	sort.SliceStable(finished, func(a, b int) bool { return finished[a].FinishedAt.After(*finished[b].FinishedAt) })

	jobs := append(running, finished...)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return jobs, nil
}

// Run drops expired jobs every SweepInterval until ctx ends.
func (s *PrimeService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			s.sweep()
			s.mu.Unlock()
		}
	}
}

// Shutdown cancels every running job and waits for them to finish.
func (s *PrimeService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, j := range s.jobs {
		j.cancel(errShutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PrimeService) start(ctx context.Context, bound, chunkSize int) (*job, error) {
	req := domain.PrimeRequest{Bound: bound, ChunkSize: chunkSize}
	if err := s.generator.Validate(req); err != nil {
		return nil, err
	}

	// Marker bytes the sieve will hold; bounds below 2 allocate nothing.
	var cost int64
	if bound >= 2 {
		cost = int64(bound) + 1
	}

	s.mu.Lock()
	s.sweep()
	if s.inFlight >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d computations already in flight", domain.ErrResourceExhausted, s.inFlight)
	}
	if s.cfg.MemoryBudget > 0 && s.reserved+cost > s.cfg.MemoryBudget {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: bound %d needs %d bytes, %d of %d in use",
			domain.ErrResourceExhausted, bound, cost, s.reserved, s.cfg.MemoryBudget)
	}
	s.inFlight++
	s.reserved += cost

	id := uuid.New().String()
	jobCtx, cancel := context.WithCancelCause(log.WithValue(context.WithoutCancel(ctx), log.JobIDKey, id))
	j := &job{
		snap: domain.Job{
			ID:        id,
			Bound:     bound,
			ChunkSize: chunkSize,
			Status:    domain.JobRunning,
			CreatedAt: s.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[id] = j
	s.wg.Add(1)
	s.mu.Unlock()

	log.WithCtx(jobCtx).Info("🚀 Job started", zap.Int("bound", bound), zap.Int("chunk_size", chunkSize))
	s.publish(jobCtx, domain.JobEvent{Type: domain.EventStarted, JobID: id, Bound: bound})

	go s.run(jobCtx, j, req, cost)
	return j, nil
}

func (s *PrimeService) run(ctx context.Context, j *job, req domain.PrimeRequest, cost int64) {
	defer s.wg.Done()
	// Events and archiving must outlive the job's own cancellation.
	bg := context.WithoutCancel(ctx)

	genCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeoutCause(ctx, s.cfg.JobTimeout, errJobTimeout)
		defer cancel()
	}

	req.OnChunk = func(p domain.ChunkProgress) {
		j.mu.Lock()
		j.snap.Progress = p
		j.mu.Unlock()
		s.publish(bg, domain.JobEvent{Type: domain.EventProgress, JobID: j.snap.ID, Bound: p.Bound, Progress: &p})
	}

	primes, err := s.generator.Generate(genCtx, req)
	j.cancel(nil)
	var retained int64
	if err == nil {
		retained = int64(len(primes)) * bytesPerPrime
	}
	s.release(j, cost, retained)

	event := j.finish(primes, err, s.digest(primes, err), s.now().UTC())
	rec := j.record()

	switch rec.Status {
	case domain.JobCompleted:
		log.WithCtx(ctx).Info("✅ Job completed", zap.Int("count", rec.Count), zap.String("digest", rec.Digest))
	case domain.JobCancelled:
		log.WithCtx(ctx).Info("Job cancelled", zap.String("reason", rec.Error))
	default:
		log.WithCtx(ctx).Error("❌ Job failed", zap.Error(err))
	}

	if err := s.store.Save(bg, rec); err != nil {
		log.WithCtx(ctx).Error("Failed to archive job", zap.Error(err))
	}
	s.publish(bg, event)
	close(j.done)
}

func (s *PrimeService) digest(primes []int, err error) string {
	if err != nil {
		return ""
	}
	return s.hasher.HashSequence(primes)
}

// release swaps the sieve reservation of a finished job for the size of the
// result it keeps in memory.
func (s *PrimeService) release(j *job, cost, retained int64) {
	s.mu.Lock()
	s.inFlight--
	s.reserved += retained - cost
	j.retained = retained
	s.mu.Unlock()
}

// sweep drops finished jobs older than the retention window. Callers hold s.mu.
func (s *PrimeService) sweep() {
	cutoff := s.now().Add(-s.cfg.Retention)
	var swept int
	for id, j := range s.jobs {
		snap := j.snapshot(false)
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			s.reserved -= j.retained
			delete(s.jobs, id)
			swept++
		}
	}
	if swept > 0 {
		log.With(zap.Int("count", swept), zap.Int64("reserved", s.reserved)).Debug("Swept finished jobs")
	}
}

func (s *PrimeService) lookup(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *PrimeService) archived(ctx context.Context, id string) (domain.Job, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	return fromRecord(rec), nil
}

// archivedErr rebuilds the outcome error of a job known only from its record.
func archivedErr(job domain.Job) error {
	switch job.Status {
	case domain.JobCancelled:
		return fmt.Errorf("%w: %s", domain.ErrCancelled,
			strings.TrimPrefix(job.Error, domain.ErrCancelled.Error()+": "))
	case domain.JobFailed:
		return errors.New(job.Error)
	}
	return nil
}

func (s *PrimeService) publish(ctx context.Context, event domain.JobEvent) {
	if s.broker == nil {
		return
	}
	event.Timestamp = s.now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithCtx(ctx).Error("Failed to marshal job event", zap.Error(err))
		return
	}
	if err := s.broker.Publish(ctx, domain.JobsTopic, event.JobID, payload); err != nil {
		log.WithCtx(ctx).Warn("Failed to publish job event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (j *job) snapshot(withPrimes bool) domain.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := j.snap
	if snap.FinishedAt != nil {
		t := *snap.FinishedAt
		snap.FinishedAt = &t
	}
	if withPrimes && j.primes != nil {
		snap.Primes = slices.Clone(j.primes)
	}
	return snap
}

func (j *job) result(withPrimes bool) (domain.Job, error) {
	snap := j.snapshot(withPrimes)
	j.mu.Lock()
	defer j.mu.Unlock()
	return snap, j.err
}

// finish records the outcome and returns the terminal event to publish.
func (j *job) finish(primes []int, err error, digest string, at time.Time) domain.JobEvent {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.snap.FinishedAt = &at
	j.err = err
	event := domain.JobEvent{JobID: j.snap.ID, Bound: j.snap.Bound}
	switch {
	case err == nil:
		j.primes = primes
		j.snap.Status = domain.JobCompleted
		j.snap.Count = len(primes)
		j.snap.Digest = digest
		event.Type, event.Count, event.Digest = domain.EventCompleted, len(primes), digest
	case errors.Is(err, domain.ErrCancelled):
		j.snap.Status = domain.JobCancelled
		j.snap.Error = err.Error()
		event.Type, event.Error = domain.EventCancelled, err.Error()
	default:
		j.snap.Status = domain.JobFailed
		j.snap.Error = err.Error()
		event.Type, event.Error = domain.EventFailed, err.Error()
	}
	return event
}

func (j *job) record() domain.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := domain.JobRecord{
		ID:        j.snap.ID,
		Bound:     j.snap.Bound,
		ChunkSize: j.snap.ChunkSize,
		Status:    j.snap.Status,
		Count:     j.snap.Count,
		Digest:    j.snap.Digest,
		Error:     j.snap.Error,
		CreatedAt: j.snap.CreatedAt,
	}
	if j.snap.FinishedAt != nil {
		rec.FinishedAt = *j.snap.FinishedAt
	}
	return rec
}

func fromRecord(rec domain.JobRecord) domain.Job {
	finished := rec.FinishedAt
	return domain.Job{
		ID:         rec.ID,
		Bound:      rec.Bound,
		ChunkSize:  rec.ChunkSize,
		Status:     rec.Status,
		Count:      rec.Count,
		Digest:     rec.Digest,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: &finished,
	}
}
