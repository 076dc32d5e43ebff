package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/ledgerclient"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/pipeline"
	"fleet-steward/agent/internal/taskstore"
)

type Ledger interface {
	Pull(ctx context.Context, max int) ([]ledgerclient.Command, error)
	Report(ctx context.Context, id string, res ledgerclient.Result) error
	CheckUpdates(ctx context.Context, installed []ledgerclient.InstalledPackage) ([]ledgerclient.UpdateCandidate, error)
}

type Executor interface {
	Submit(ctx context.Context, in taskstore.NewTask) (*db.TaskRecord, error)
	Await(ctx context.Context, id string) (*db.TaskRecord, error)
	Inventory() ([]pipeline.PackageInfo, error)
	HasActive(pkg string) (bool, error)
}

type Actions interface {
	Reboot(ctx context.Context, reason string) error
	ApplyBaselinePolicy() (string, error)
	CollectLogs(lines int) (string, error)
}

type Settings interface {
	AutoUpdate() bool
}

// CommandType is the closed set of ledger command types the agent executes.
type CommandType string

const (
	CommandInstallApp    CommandType = "INSTALL_APP"
	CommandUpdateApp     CommandType = "UPDATE_APP"
	CommandUninstallApp  CommandType = "UNINSTALL_APP"
	CommandReboot        CommandType = "REBOOT"
	CommandApplyPolicy   CommandType = "APPLY_POLICY"
	CommandCollectLogs   CommandType = "COLLECT_LOGS"
	CommandSyncInventory CommandType = "SYNC_INVENTORY"
)

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"

	codeUnknownCommand = "UNKNOWN_COMMAND"
	codeInvalidPayload = "INVALID_PAYLOAD"
	codeActionFailed   = "ACTION_FAILED"
)

// ErrSkipped is returned by RunOnce when another cycle is still running.
var ErrSkipped = errors.New("dispatch cycle already running")

// Dispatcher bridges the ledger and the local pipeline.
type Dispatcher struct {
	ledger   Ledger
	exec     Executor
	actions  Actions
	settings Settings
	maxPull  int

	running sync.Mutex
}

func New(ledger Ledger, exec Executor, actions Actions, settings Settings, maxPull int) *Dispatcher {
	if maxPull <= 0 {
		maxPull = 10
	}
	return &Dispatcher{ledger: ledger, exec: exec, actions: actions, settings: settings, maxPull: maxPull}
}

// RunOnce executes one poll-execute-report cycle. Overlapping calls are skipped.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	if !d.running.TryLock() {
		logger.Warn("dispatch: previous cycle still running, skipping")
		return ErrSkipped
	}
	defer d.running.Unlock()

	if !d.settings.AutoUpdate() {
		logger.Info("dispatch: auto update disabled, skipping cycle")
		return nil
	}

	var errs []error
	if err := d.checkUpdates(ctx); err != nil {
		logger.Errorf("dispatch: update check: %v", err)
		errs = append(errs, err)
	}

	cmds, err := d.ledger.Pull(ctx, d.maxPull)
	if err != nil {
		logger.Errorf("dispatch: %v", err)
		return errors.Join(append(errs, err)...)
	}
	if len(cmds) > 0 {
		logger.Infof("dispatch: claimed %d commands", len(cmds))
	}
	// after-report actions (reboot) wait until every claimed command is reported
	var afters []func()
	for _, cmd := range cmds {
		res, after := d.execute(ctx, cmd)
		res.Message = clipHead(res.Message, ledgerclient.MaxMessageLen)
		if err := d.ledger.Report(ctx, cmd.ID, res); err != nil {
			logger.Errorf("dispatch: %v", err)
			errs = append(errs, err)
		} else {
			logger.Infof("dispatch: command %s %s -> %s %s", cmd.ID, cmd.Type, res.Status, res.Code)
		}
		if after != nil {
			afters = append(afters, after)
		}
	}
	for _, after := range afters {
		after()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) checkUpdates(ctx context.Context) error {
	inv, err := d.exec.Inventory()
	if err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	installed := make(map[string]pipeline.PackageInfo, len(inv))
	report := make([]ledgerclient.InstalledPackage, 0, len(inv))
	for _, p := range inv {
		installed[p.PackageName] = p
		report = append(report, ledgerclient.InstalledPackage{PackageName: p.PackageName, VersionCode: p.VersionCode})
	}
	cands, err := d.ledger.CheckUpdates(ctx, report)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range cands {
		cur, known := installed[c.PackageName]
		if known && cur.Installed && cur.VersionCode >= c.VersionCode {
			continue
		}
		active, err := d.exec.HasActive(c.PackageName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if active {
			continue
		}
		typ := db.TaskUpdate
		if !known || !cur.Installed {
			typ = db.TaskInstall
		}
		rec, err := d.exec.Submit(ctx, taskstore.NewTask{
			TaskType:          typ,
			PackageName:       c.PackageName,
			TargetVersionCode: c.VersionCode,
			DownloadURL:       c.URL,
			ExpectedDigest:    c.Digest,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", c.PackageName, err))
			continue
		}
		logger.Infof("dispatch: queued %s of %s to %d (task %s)", typ, c.PackageName, c.VersionCode, rec.TaskID)
	}
	return errors.Join(errs...)
}

// execute runs one command. The returned func, when set, runs after the result
// has been reported.
func (d *Dispatcher) execute(ctx context.Context, cmd ledgerclient.Command) (ledgerclient.Result, func()) {
	switch CommandType(cmd.Type) {
	case CommandInstallApp:
		return d.runTask(ctx, cmd, db.TaskInstall), nil
	case CommandUpdateApp:
		return d.runTask(ctx, cmd, db.TaskUpdate), nil
	case CommandUninstallApp:
		return d.runTask(ctx, cmd, db.TaskUninstall), nil
	case CommandReboot:
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(cmd.Payload, &p)
		if p.Reason == "" {
			p.Reason = "ledger command " + cmd.ID
		}
		return ledgerclient.Result{Status: statusSuccess, Message: "reboot scheduled"}, func() {
			if err := d.actions.Reboot(context.Background(), p.Reason); err != nil {
				logger.Errorf("dispatch: reboot: %v", err)
			}
		}
	case CommandApplyPolicy:
		msg, err := d.actions.ApplyBaselinePolicy()
		if err != nil {
			return failed(codeActionFailed, err.Error()), nil
		}
		return ledgerclient.Result{Status: statusSuccess, Message: msg, Code: pipeline.CodeOK}, nil
	case CommandCollectLogs:
		var p struct {
			Lines int `json:"lines"`
		}
		_ = json.Unmarshal(cmd.Payload, &p)
		if p.Lines <= 0 {
			p.Lines = 20
		}
		out, err := d.actions.CollectLogs(p.Lines)
		if err != nil {
			return failed(codeActionFailed, err.Error()), nil
		}
		if out == "" {
			out = "log is empty"
		}
		out = tailLines(out, ledgerclient.MaxMessageLen)
		return ledgerclient.Result{Status: statusSuccess, Message: out, Code: pipeline.CodeOK}, nil
	case CommandSyncInventory:
		inv, err := d.exec.Inventory()
		if err != nil {
			return failed(codeActionFailed, err.Error()), nil
		}
		return ledgerclient.Result{Status: statusSuccess, Message: inventoryMessage(inv, ledgerclient.MaxMessageLen), Code: pipeline.CodeOK}, nil
	default:
		return failed(codeUnknownCommand, fmt.Sprintf("unsupported command type %q", cmd.Type)), nil
	}
}

func (d *Dispatcher) runTask(ctx context.Context, cmd ledgerclient.Command, typ db.TaskType) ledgerclient.Result {
	var p ledgerclient.AppPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return failed(codeInvalidPayload, "invalid payload: "+err.Error())
	}
	in := taskstore.NewTask{TaskType: typ, PackageName: p.PackageName}
	if typ != db.TaskUninstall {
		in.TargetVersionCode = p.VersionCode
		in.DownloadURL = p.URL
		in.ExpectedDigest = p.Digest
		in.Metadata = string(p.Metadata)
	}
	rec, err := d.exec.Submit(ctx, in)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidTask) {
			return failed(codeInvalidPayload, err.Error())
		}
		return failed(pipeline.CodeNetworkIO, err.Error())
	}
	done, err := d.exec.Await(ctx, rec.TaskID)
	if err != nil {
		// the task keeps running locally; the ledger entry needs a fresh command
		return failed(pipeline.CodeInterrupted, fmt.Sprintf("task %s not finished: %v", rec.TaskID, err))
	}
	return ledgerclient.Result{Status: string(done.Status), Message: done.Message, Code: done.ResultCode}
}

func failed(code, msg string) ledgerclient.Result {
	return ledgerclient.Result{Status: statusFailed, Code: code, Message: msg}
}
