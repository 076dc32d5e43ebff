package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"fleet-steward/agent/internal/logger"

	cronlib "github.com/robfig/cron/v3"
)

var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Host runs the dispatcher on a cron schedule and on demand. Cycles run on one
// goroutine; triggers that arrive while a cycle runs coalesce into one.
type Host struct {
	d          *Dispatcher
	cron       *cronlib.Cron
	trigger    chan struct{}
	retryAfter time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHost(d *Dispatcher, schedule string, retryAfter time.Duration) (*Host, error) {
	if retryAfter <= 0 {
		retryAfter = 15 * time.Minute
	}
	h := &Host{
		d:          d,
		cron:       cronlib.New(cronlib.WithParser(scheduleParser), cronlib.WithLogger(cronlib.PrintfLogger(&logger.L))),
		trigger:    make(chan struct{}, 1),
		retryAfter: retryAfter,
	}
	if _, err := h.cron.AddFunc(schedule, h.Trigger); err != nil {
		return nil, err
	}
	return h, nil
}

// Trigger asks for a cycle as soon as possible.
func (h *Host) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

func (h *Host) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.cron.Start()
	h.wg.Add(1)
	go h.loop(ctx)
	logger.Info("dispatch: scheduler started")
}

func (h *Host) Stop() {
	<-h.cron.Stop().Done()
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	logger.Info("dispatch: scheduler stopped")
}

func (h *Host) loop(ctx context.Context) {
	defer h.wg.Done()
	var retry *time.Timer
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.trigger:
		}
		err := h.d.RunOnce(ctx)
		if err == nil || errors.Is(err, ErrSkipped) || ctx.Err() != nil {
			continue
		}
		logger.Warnf("dispatch: cycle failed, retrying in %s: %v", h.retryAfter, err)
		if retry != nil {
			retry.Stop()
		}
		retry = time.AfterFunc(h.retryAfter, h.Trigger)
	}
}
