package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"notesync/internal/logging"
	"notesync/internal/remote"
	"notesync/internal/store"
)

// Result is the recorded outcome of a finished pass.
type Result struct {
	PassID   string
	Status   Status
	Err      error
	Finished time.Time
}

// Service runs sync passes in a background goroutine, one at a time.
// A second Start while a pass is running is rejected, not queued.
type Service struct {
	store      *store.Store
	clientOpts remote.Options
	onProgress func(string)

	mu       stdsync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	progress string
	last     *Result
}

// NewService builds a service over an open store. onProgress may be
// nil; it receives every progress string of every pass.
func NewService(s *store.Store, clientOpts remote.Options, onProgress func(string)) *Service {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	return &Service{
		store:      s,
		clientOpts: clientOpts,
		onProgress: onProgress,
	}
}

// Start launches a pass in the background. StatusInProgress means a
// pass is already running and the call did nothing; StatusSuccess
// means the pass was accepted, with its real outcome available from
// Wait or LastResult.
func (s *Service) Start() Status {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return StatusInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.progress = "starting"
	done := s.done
	s.mu.Unlock()

	passID := uuid.New().String()
	go func() {
		defer close(done)
		s.runPass(ctx, passID)
	}()
	return StatusSuccess
}

// Cancel requests cooperative cancellation of the running pass. A
// finished or never-started pass is left alone.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.cancel != nil {
		s.cancel()
	}
}

// IsSyncing reports whether a pass is running.
func (s *Service) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Progress returns the latest progress string of the running pass.
func (s *Service) Progress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// LastResult returns the outcome of the most recently finished pass.
func (s *Service) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Wait blocks until the running pass finishes and returns its result.
// Without a running pass it returns the last result immediately.
func (s *Service) Wait() Result {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	r, _ := s.LastResult()
	return r
}

func (s *Service) runPass(ctx context.Context, passID string) {
	logging.Info("sync pass %s started", passID)

	report := func(msg string) {
		s.mu.Lock()
		s.progress = msg
		s.mu.Unlock()
		logging.Debug("sync pass %s: %s", passID, msg)
		s.onProgress(msg)
	}

	var status Status
	var err error
	client, cerr := remote.NewClient(s.clientOpts)
	if cerr != nil {
		status, err = StatusInternalError, cerr
	} else {
		status, err = NewManager(s.store, client, report).Sync(ctx)
	}

	if err != nil {
		logging.Error("sync pass %s finished: %s (%v)", passID, status, err)
	} else {
		logging.Info("sync pass %s finished: %s", passID, status)
	}

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.progress = status.String()
	s.last = &Result{PassID: passID, Status: status, Err: err, Finished: time.Now()}
	s.mu.Unlock()
}
