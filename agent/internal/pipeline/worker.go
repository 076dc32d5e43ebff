package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/installer"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/verify"
)

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.run(ctx, id)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, id string) {
	rec, err := p.store.Get(id)
	if err != nil {
		logger.Errorf("pipeline: load task %s: %v", id, err)
		return
	}
	if rec == nil || rec.Status != db.TaskPending {
		return
	}
	rec = p.update(id, func(r *db.TaskRecord) {
		r.Status = db.TaskRunning
		r.Progress = 0
		r.Message = ""
	})
	if rec == nil {
		return
	}
	if err := p.inst.Ready(); err != nil {
		p.finish(id, db.TaskFailed, CodeAuthorityNotReady, err.Error(), nil)
		return
	}

	switch rec.TaskType {
	case db.TaskInstall, db.TaskUpdate:
		p.runInstall(ctx, *rec)
	case db.TaskUninstall:
		p.runUninstall(ctx, *rec)
	default:
		p.finish(id, db.TaskFailed, CodeUnknownTaskType, fmt.Sprintf("unknown task type %q", rec.TaskType), nil)
	}
}

func (p *Pipeline) runInstall(ctx context.Context, rec db.TaskRecord) {
	dir := filepath.Join(p.cfg.WorkDir, rec.TaskID)
	defer os.RemoveAll(dir)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			n := attempt
			p.update(rec.TaskID, func(r *db.TaskRecord) {
				r.RetryCount = n
				r.Message = fmt.Sprintf("attempt %d failed: %v", n, lastErr)
			})
			if err := p.sleep(ctx, time.Duration(attempt)*p.cfg.RetryBaseDelay); err != nil {
				return
			}
		}

		done, err := p.attempt(ctx, rec, dir)
		switch {
		case err == nil:
			p.awaitCommit(ctx, rec.TaskID, done)
			return
		case errors.Is(err, verify.ErrIntegrity):
			p.finish(rec.TaskID, db.TaskFailed, CodeDigestMismatch, err.Error(), nil)
			return
		case errors.Is(err, verify.ErrIdentity):
			p.finish(rec.TaskID, db.TaskFailed, CodeIdentityMismatch, err.Error(), nil)
			return
		case ctx.Err() != nil:
			return
		}
		lastErr = err
		logger.Warnf("pipeline: task %s attempt %d/%d: %v", rec.TaskID, attempt+1, maxAttempts, err)
	}
	p.finish(rec.TaskID, db.TaskFailed, CodeNetworkIO, lastErr.Error(), nil)
}

// attempt downloads, verifies and hands the artifact to the installer. On success
// the returned channel delivers the terminal record.
func (p *Pipeline) attempt(ctx context.Context, rec db.TaskRecord, dir string) (chan db.TaskRecord, error) {
	artifact := filepath.Join(dir, "artifact")
	if err := p.download(ctx, rec, artifact); err != nil {
		return nil, err
	}
	if err := verify.VerifyDigest(rec.ExpectedDigest, artifact); err != nil {
		return nil, err
	}
	p.setProgress(rec.TaskID, progressDigest)
	if _, err := verify.VerifyArchiveIdentity(rec.PackageName, rec.TargetVersionCode, artifact); err != nil {
		return nil, err
	}
	p.setProgress(rec.TaskID, progressIdentity)

	done := p.subscribe(rec.TaskID)
	p.setProgress(rec.TaskID, progressCommit)
	if err := p.inst.Install(ctx, rec.TaskID, rec.PackageName, artifact); err != nil {
		p.unsubscribe(rec.TaskID, done)
		return nil, fmt.Errorf("commit: %w", err)
	}
	return done, nil
}

func (p *Pipeline) download(ctx context.Context, rec db.TaskRecord, dst string) error {
	p.setProgress(rec.TaskID, progressDownloadStart)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.DownloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	pw := &progressWriter{total: resp.ContentLength, last: progressDownloadStart, report: func(v int) {
		p.setProgress(rec.TaskID, v)
	}}
	if _, err := io.Copy(io.MultiWriter(out, pw), resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("download: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if pw.last != progressDownloadEnd {
		p.setProgress(rec.TaskID, progressDownloadEnd)
	}
	return nil
}

// progressWriter maps bytes received onto the download band, reporting only
// steps of at least 5 points.
type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(int)
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.total > 0 {
		span := progressDownloadEnd - progressDownloadStart
		v := progressDownloadStart + int(w.written*int64(span)/w.total)
		if v > progressDownloadEnd {
			v = progressDownloadEnd
		}
		if v-w.last >= 5 || (v == progressDownloadEnd && w.last != v) {
			w.last = v
			w.report(v)
		}
	}
	return len(b), nil
}

func (p *Pipeline) runUninstall(ctx context.Context, rec db.TaskRecord) {
	done := p.subscribe(rec.TaskID)
	p.setProgress(rec.TaskID, progressUninstall)
	if err := p.inst.Uninstall(ctx, rec.TaskID, rec.PackageName); err != nil {
		p.unsubscribe(rec.TaskID, done)
		p.finish(rec.TaskID, db.TaskFailed, CodeInstallFailed, err.Error(), nil)
		return
	}
	p.awaitCommit(ctx, rec.TaskID, done)
}

// awaitCommit holds the worker until the completion listener resolves the task
// or the confirmation window closes.
func (p *Pipeline) awaitCommit(ctx context.Context, id string, done chan db.TaskRecord) {
	t := time.NewTimer(p.cfg.ConfirmTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		p.unsubscribe(id, done)
		p.finish(id, db.TaskFailed, CodeConfirmationTimeout,
			fmt.Sprintf("no installer confirmation within %s", p.cfg.ConfirmTimeout), nil)
	case <-ctx.Done():
		p.unsubscribe(id, done)
	}
}

func (p *Pipeline) listen(ctx context.Context) {
	events := p.inst.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.complete(ev)
		}
	}
}

func (p *Pipeline) complete(ev installer.Event) {
	rec, err := p.store.Get(ev.TaskID)
	if err != nil || rec == nil {
		logger.Warnf("pipeline: completion for unknown task %s", ev.TaskID)
		return
	}
	if rec.Status.Terminal() {
		logger.Warnf("pipeline: late completion for task %s (%s) dropped", ev.TaskID, rec.Status)
		return
	}

	switch ev.Outcome {
	case installer.Success:
		p.finish(ev.TaskID, db.TaskSuccess, CodeOK, ev.Message, p.afterSuccess)
	case installer.PendingUserAction:
		p.finish(ev.TaskID, db.TaskFailed, CodePendingUserAction, ev.Message, nil)
	default:
		p.finish(ev.TaskID, db.TaskFailed, CodeInstallFailed, ev.Message, nil)
	}
}

func (p *Pipeline) afterSuccess(rec db.TaskRecord) {
	if rec.TaskType == db.TaskUninstall {
		if err := p.managed.Remove(rec.PackageName); err != nil {
			logger.Errorf("pipeline: unmanage %s: %v", rec.PackageName, err)
		}
		return
	}
	if err := p.managed.Add(rec.PackageName); err != nil {
		logger.Errorf("pipeline: manage %s: %v", rec.PackageName, err)
	}
	if p.cfg.HomePackage != "" && rec.PackageName == p.cfg.HomePackage {
		if err := p.inst.SetHomeLauncher(rec.PackageName); err != nil {
			logger.Warnf("pipeline: pin home launcher %s: %v", rec.PackageName, err)
		}
	}
}
