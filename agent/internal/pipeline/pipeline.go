package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/installer"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/taskstore"
)

var ErrInvalidTask = errors.New("invalid task")

type Config struct {
	WorkDir        string
	HomePackage    string
	RetryBaseDelay time.Duration
	ConfirmTimeout time.Duration
	QueueSize      int
}

// PackageInfo is one entry of the managed inventory.
type PackageInfo struct {
	PackageName string `json:"package_name"`
	VersionName string `json:"version_name"`
	VersionCode int64  `json:"version_code"`
	Installed   bool   `json:"installed"`
}

// Pipeline runs install, update and uninstall tasks one at a time on a single
// worker. Commit results arrive on the installer's event channel and are applied
// by a separate listener.
type Pipeline struct {
	store   *taskstore.Store
	managed *taskstore.ManagedSet
	inst    installer.Installer
	cfg     Config
	client  *http.Client
	queue   chan string

	// Observer, when set, sees every persisted task change.
	Observer func(db.TaskRecord)
	sleep    func(context.Context, time.Duration) error

	finishMu sync.Mutex
	mu       sync.Mutex
	waiters  map[string][]chan db.TaskRecord
	wg       sync.WaitGroup
}

func New(store *taskstore.Store, managed *taskstore.ManagedSet, inst installer.Installer, cfg Config) *Pipeline {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Pipeline{
		store:   store,
		managed: managed,
		inst:    inst,
		cfg:     cfg,
		client:  &http.Client{},
		queue:   make(chan string, cfg.QueueSize),
		sleep:   sleepCtx,
		waiters: make(map[string][]chan db.TaskRecord),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start recovers tasks left over by a previous run and launches the worker and
// the completion listener. Both stop when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.recover(); err != nil {
		return err
	}
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.listen(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.work(ctx)
	}()
	return nil
}

// Wait blocks until the goroutines started by Start have returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

// recover fails tasks that were mid-flight when the process died and re-queues
// tasks that never started.
func (p *Pipeline) recover() error {
	running, err := p.store.WithStatus(db.TaskRunning)
	if err != nil {
		return err
	}
	for _, rec := range running {
		logger.Warnf("pipeline: task %s was interrupted", rec.TaskID)
		p.finish(rec.TaskID, db.TaskFailed, CodeInterrupted, "agent restarted while the task was running", nil)
	}
	pending, err := p.store.WithStatus(db.TaskPending)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		select {
		case p.queue <- rec.TaskID:
		default:
			return fmt.Errorf("queue full while recovering %d pending tasks", len(pending))
		}
	}
	if len(running)+len(pending) > 0 {
		logger.Infof("pipeline: recovered %d pending, failed %d interrupted", len(pending), len(running))
	}
	return nil
}

// Submit persists a new task and queues it behind every earlier one.
func (p *Pipeline) Submit(ctx context.Context, in taskstore.NewTask) (*db.TaskRecord, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	rec, err := p.store.Create(in)
	if err != nil {
		return nil, err
	}
	p.observe(rec)
	select {
	case p.queue <- rec.TaskID:
	case <-ctx.Done():
		// never queued: a PENDING task nobody works on would stall its awaiters
		p.finish(rec.TaskID, db.TaskFailed, CodeInterrupted, "not queued: "+ctx.Err().Error(), nil)
		if cur, err := p.store.Get(rec.TaskID); err == nil && cur != nil {
			rec = cur
		}
		return rec, ctx.Err()
	}
	logger.Infof("pipeline: queued %s %s for %s", rec.TaskType, rec.TaskID, rec.PackageName)
	return rec, nil
}

func validate(in taskstore.NewTask) error {
	if strings.TrimSpace(in.PackageName) == "" {
		return fmt.Errorf("%w: package_name is required", ErrInvalidTask)
	}
	switch in.TaskType {
	case db.TaskInstall, db.TaskUpdate:
		if in.DownloadURL == "" {
			return fmt.Errorf("%w: download url is required", ErrInvalidTask)
		}
	case db.TaskUninstall:
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, in.TaskType)
	}
	return nil
}

func (p *Pipeline) Task(id string) (*db.TaskRecord, error) { return p.store.Get(id) }

// Await blocks until the task is terminal or ctx ends.
func (p *Pipeline) Await(ctx context.Context, id string) (*db.TaskRecord, error) {
	ch := p.subscribe(id)
	rec, err := p.store.Get(id)
	if err != nil || rec == nil {
		p.unsubscribe(id, ch)
		if err == nil {
			err = fmt.Errorf("task %s not found", id)
		}
		return nil, err
	}
	if rec.Status.Terminal() {
		p.unsubscribe(id, ch)
		return rec, nil
	}
	select {
	case done := <-ch:
		return &done, nil
	case <-ctx.Done():
		p.unsubscribe(id, ch)
		return nil, ctx.Err()
	}
}

func (p *Pipeline) subscribe(id string) chan db.TaskRecord {
	ch := make(chan db.TaskRecord, 1)
	p.mu.Lock()
	p.waiters[id] = append(p.waiters[id], ch)
	p.mu.Unlock()
	return ch
}

func (p *Pipeline) unsubscribe(id string, ch chan db.TaskRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.waiters, id)
	} else {
		p.waiters[id] = list
	}
}

func (p *Pipeline) notify(rec db.TaskRecord) {
	p.mu.Lock()
	list := p.waiters[rec.TaskID]
	delete(p.waiters, rec.TaskID)
	p.mu.Unlock()
	for _, ch := range list {
		ch <- rec
	}
}

func (p *Pipeline) observe(rec *db.TaskRecord) {
	if p.Observer != nil && rec != nil {
		p.Observer(*rec)
	}
}

func (p *Pipeline) update(id string, mutate func(*db.TaskRecord)) *db.TaskRecord {
	rec, err := p.store.Update(id, mutate)
	if err != nil {
		logger.Errorf("pipeline: update task %s: %v", id, err)
		return nil
	}
	p.observe(rec)
	return rec
}

func (p *Pipeline) setProgress(id string, progress int) {
	p.update(id, func(r *db.TaskRecord) { r.Progress = progress })
}

// finish moves a task to a terminal status exactly once. applied runs after the
// write and before waiters are released. It reports false when the task was
// already terminal.
func (p *Pipeline) finish(id string, status db.TaskStatus, code, msg string, applied func(db.TaskRecord)) bool {
	p.finishMu.Lock()
	defer p.finishMu.Unlock()

	cur, err := p.store.Get(id)
	if err != nil || cur == nil || cur.Status.Terminal() {
		return false
	}
	if msg == "" {
		msg = strings.ToLower(string(status))
	}
	rec := p.update(id, func(r *db.TaskRecord) {
		r.Status = status
		r.ResultCode = code
		r.Message = truncate(msg, 1024)
	})
	if rec == nil {
		return false
	}
	logger.Infof("pipeline: task %s finished %s (%s): %s", id, status, code, rec.Message)
	if applied != nil {
		applied(*rec)
	}
	p.notify(*rec)
	return true
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Inventory lists the managed packages with their installed versions.
func (p *Pipeline) Inventory() ([]PackageInfo, error) {
	names, err := p.managed.List()
	if err != nil {
		return nil, err
	}
	out := make([]PackageInfo, 0, len(names))
	for _, name := range names {
		v, ok, err := p.inst.InstalledVersion(name)
		if err != nil {
			logger.Warnf("pipeline: version of %s: %v", name, err)
		}
		out = append(out, PackageInfo{PackageName: name, VersionName: v.Name, VersionCode: v.Code, Installed: ok})
	}
	return out, nil
}

// HasActive reports whether pkg already has a queued or running task.
func (p *Pipeline) HasActive(pkg string) (bool, error) { return p.store.HasActive(pkg) }
