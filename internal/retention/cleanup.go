// Package retention removes captured media older than the configured
// retention period.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"smartbox/internal/config"
	"smartbox/internal/storage"
)

// DefaultSchedule runs the cleanup every night at 02:00 (with seconds).
const DefaultSchedule = "0 0 2 * * *"

// Snapshotter supplies the current configuration.
type Snapshotter interface {
	Snapshot() *config.Model
}

// Result summarises one cleanup run.
type Result struct {
	Skipped      bool      `json:"skipped"`
	Cutoff       time.Time `json:"cutoff"`
	RemovedFiles int       `json:"removedFiles"`
	RemovedBytes int64     `json:"removedBytes"`
	Errors       int       `json:"errors"`
}

func (r Result) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"skipped":      r.Skipped,
		"cutoff":       r.Cutoff.Format(time.RFC3339),
		"removedFiles": r.RemovedFiles,
		"removedBytes": r.RemovedBytes,
		"errors":       r.Errors,
	}
}

type Service struct {
	cfg       Snapshotter
	log       *zap.Logger
	open      storage.Opener
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
	onRemoved func(n int)

	// running serialises runs from the schedule and from the UI.
	running sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type Option func(*Service)

// WithRemovedHook is called with the number of files each run removed.
func WithRemovedHook(fn func(n int)) Option {
	return func(s *Service) { s.onRemoved = fn }
}

// WithStorage replaces how media directories are opened.
func WithStorage(open storage.Opener) Option {
	return func(s *Service) { s.open = open }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg Snapshotter, schedule string, log *zap.Logger, opts ...Option) *Service {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		log:       log,
		open:      storage.LocalOpener(""),
		schedule:  schedule,
		cron:      cron.New(cron.WithSeconds()),
		now:       time.Now,
		onRemoved: func(int) {},
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the cleanup.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("retention scheduler already started")
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Run(s.ctx, false); err != nil {
			s.log.Error("Scheduled cleanup failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.started = true
	s.log.Info("Retention scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop cancels a running cleanup and waits for the scheduler to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("Retention scheduler stopped")
}

// Run removes expired files. Unless force is set it only runs when
// automatic cleanup is enabled; a retention of zero days never removes
// anything.
func (s *Service) Run(ctx context.Context, force bool) (Result, error) {
	s.running.Lock()
	defer s.running.Unlock()

	m := s.cfg.Snapshot()
	days := m.Storage.RetentionDays()
	if days == 0 || (!force && !m.Storage.EnableAutoCleanup()) {
		return Result{Skipped: true}, nil
	}

	start := s.now()
	res := Result{Cutoff: start.AddDate(0, 0, -days).UTC()}
	for _, dir := range []string{m.Storage.PhotosPath(), m.Storage.VideosPath(), m.Storage.DicomPath()} {
		if err := s.sweep(ctx, dir, &res); err != nil {
			return res, err
		}
	}

	s.onRemoved(res.RemovedFiles)
	s.log.Info("Retention cleanup finished",
		zap.Int("retentionDays", days),
		zap.Int("removedFiles", res.RemovedFiles),
		zap.Int64("removedBytes", res.RemovedBytes),
		zap.Int("errors", res.Errors),
		zap.Duration("elapsed", s.now().Sub(start)),
	)
	return res, nil
}

func (s *Service) sweep(ctx context.Context, dir string, res *Result) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	store, err := s.open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}

	var expired []storage.Object
	err = store.Walk(ctx, func(o storage.Object) error {
		if o.ModTime.Before(res.Cutoff) {
			expired = append(expired, o)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, o := range expired {
		if err := store.Delete(ctx, o.Name); err != nil {
			res.Errors++
			s.log.Warn("Failed to remove expired file", zap.String("dir", dir), zap.String("name", o.Name), zap.Error(err))
			continue
		}
		res.RemovedFiles++
		res.RemovedBytes += o.Size
	}
	return nil
}
