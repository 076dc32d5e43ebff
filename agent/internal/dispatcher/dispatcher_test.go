package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/ledgerclient"
	"fleet-steward/agent/internal/pipeline"
	"fleet-steward/agent/internal/taskstore"
)

// journal records calls across fakes in order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeLedger struct {
	j          *journal
	cmds       []ledgerclient.Command
	pullErr    error
	checkErr   error
	candidates []ledgerclient.UpdateCandidate
	checked    []ledgerclient.InstalledPackage
	block      chan struct{}
	pulls      atomic.Int32

	mu      sync.Mutex
	reports map[string]ledgerclient.Result
}

func (f *fakeLedger) Pull(ctx context.Context, max int) ([]ledgerclient.Command, error) {
	f.pulls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.cmds, nil
}

func (f *fakeLedger) Report(_ context.Context, id string, res ledgerclient.Result) error {
	f.mu.Lock()
	if f.reports == nil {
		f.reports = map[string]ledgerclient.Result{}
	}
	f.reports[id] = res
	f.mu.Unlock()
	f.j.add("report %s %s", id, res.Status)
	return nil
}

func (f *fakeLedger) CheckUpdates(_ context.Context, in []ledgerclient.InstalledPackage) ([]ledgerclient.UpdateCandidate, error) {
	f.checked = in
	return f.candidates, f.checkErr
}

type fakeExec struct {
	inventory []pipeline.PackageInfo
	active    map[string]bool
	outcome   map[string]db.TaskRecord // by package
	submitted []taskstore.NewTask
}

func (f *fakeExec) Submit(_ context.Context, in taskstore.NewTask) (*db.TaskRecord, error) {
	if in.PackageName == "" {
		return nil, pipeline.ErrInvalidTask
	}
	f.submitted = append(f.submitted, in)
	return &db.TaskRecord{TaskID: in.PackageName + "-task", PackageName: in.PackageName, Status: db.TaskPending}, nil
}

func (f *fakeExec) Await(_ context.Context, id string) (*db.TaskRecord, error) {
	for pkg, rec := range f.outcome {
		if pkg+"-task" == id {
			r := rec
			return &r, nil
		}
	}
	return &db.TaskRecord{TaskID: id, Status: db.TaskSuccess, ResultCode: pipeline.CodeOK, Message: "done"}, nil
}

func (f *fakeExec) Inventory() ([]pipeline.PackageInfo, error) { return f.inventory, nil }

func (f *fakeExec) HasActive(pkg string) (bool, error) { return f.active[pkg], nil }

type fakeActions struct{ j *journal }

func (f fakeActions) Reboot(_ context.Context, reason string) error {
	f.j.add("reboot %s", reason)
	return nil
}
func (f fakeActions) ApplyBaselinePolicy() (string, error) { return "baseline applied", nil }
func (f fakeActions) CollectLogs(n int) (string, error)    { return fmt.Sprintf("%d lines", n), nil }

type flag bool

func (f flag) AutoUpdate() bool { return bool(f) }

func cmd(id string, typ CommandType, payload string) ledgerclient.Command {
	return ledgerclient.Command{ID: id, Type: string(typ), Payload: json.RawMessage(payload), Status: "RUNNING"}
}

func TestDisabledAutoUpdateSkipsCycle(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, cmds: []ledgerclient.Command{cmd("c1", CommandReboot, `{}`)}}
	d := New(l, &fakeExec{}, fakeActions{j}, flag(false), 5)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if l.pulls.Load() != 0 || len(j.list()) != 0 {
		t.Fatalf("disabled cycle touched the ledger: pulls=%d events=%v", l.pulls.Load(), j.list())
	}
}

func TestUpdateCandidatesBecomeTasks(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, candidates: []ledgerclient.UpdateCandidate{
		{PackageName: "a", VersionCode: 2, URL: "https://x/a2.zip", Digest: "sha256:aa"},
		{PackageName: "b", VersionCode: 1, URL: "https://x/b1.zip"},
		{PackageName: "c", VersionCode: 5, URL: "https://x/c5.zip"},
		{PackageName: "same", VersionCode: 7, URL: "https://x/same.zip"},
		{PackageName: "busy", VersionCode: 9, URL: "https://x/busy.zip"},
	}}
	exec := &fakeExec{
		inventory: []pipeline.PackageInfo{
			{PackageName: "a", VersionCode: 1, Installed: true},
			{PackageName: "b", Installed: false},
			{PackageName: "same", VersionCode: 7, Installed: true},
			{PackageName: "busy", VersionCode: 1, Installed: true},
		},
		active: map[string]bool{"busy": true},
	}
	d := New(l, exec, fakeActions{j}, flag(true), 5)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(l.checked) != 4 || l.checked[0].PackageName != "a" || l.checked[0].VersionCode != 1 {
		t.Fatalf("inventory sent: %+v", l.checked)
	}
	want := map[string]db.TaskType{"a": db.TaskUpdate, "b": db.TaskInstall, "c": db.TaskInstall}
	if len(exec.submitted) != len(want) {
		t.Fatalf("submitted: %+v", exec.submitted)
	}
	for _, s := range exec.submitted {
		if want[s.PackageName] != s.TaskType {
			t.Fatalf("%s submitted as %s", s.PackageName, s.TaskType)
		}
	}
	if exec.submitted[0].ExpectedDigest != "sha256:aa" || exec.submitted[0].TargetVersionCode != 2 {
		t.Fatalf("candidate fields lost: %+v", exec.submitted[0])
	}
}

func TestCommandsAreExecutedAndReported(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, cmds: []ledgerclient.Command{
		cmd("c1", CommandInstallApp, `{"package_name":"com.example.app","version_code":3,"url":"https://x/a.zip"}`),
		cmd("c2", CommandUpdateApp, `{"package_name":"com.example.bad","url":"https://x/b.zip"}`),
		cmd("c3", CommandUninstallApp, `{"package_name":"com.example.old"}`),
		cmd("c4", CommandReboot, `{"reason":"nightly"}`),
		cmd("c5", CommandApplyPolicy, `{}`),
		cmd("c6", CommandCollectLogs, `{"lines":5}`),
		cmd("c7", CommandSyncInventory, `{}`),
		cmd("c8", CommandType("FORMAT_DISK"), `{}`),
		cmd("c9", CommandInstallApp, `{}`),
	}}
	exec := &fakeExec{
		inventory: []pipeline.PackageInfo{{PackageName: "com.example.app", VersionCode: 3, Installed: true}},
		outcome: map[string]db.TaskRecord{
			"com.example.bad": {Status: db.TaskFailed, ResultCode: pipeline.CodeDigestMismatch, Message: "digest mismatch"},
		},
	}
	d := New(l, exec, fakeActions{j}, flag(true), 10)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	expect := map[string]struct{ status, code string }{
		"c1": {"SUCCESS", pipeline.CodeOK},
		"c2": {"FAILED", pipeline.CodeDigestMismatch},
		"c3": {"SUCCESS", pipeline.CodeOK},
		"c4": {"SUCCESS", ""},
		"c5": {"SUCCESS", pipeline.CodeOK},
		"c6": {"SUCCESS", pipeline.CodeOK},
		"c7": {"SUCCESS", pipeline.CodeOK},
		"c8": {"FAILED", codeUnknownCommand},
		"c9": {"FAILED", codeInvalidPayload},
	}
	for id, e := range expect {
		got, ok := l.reports[id]
		if !ok {
			t.Fatalf("%s not reported", id)
		}
		if got.Status != e.status || got.Code != e.code {
			t.Fatalf("%s: got %+v, want %s/%s", id, got, e.status, e.code)
		}
		if got.Message == "" {
			t.Fatalf("%s: empty message", id)
		}
	}
	if l.reports["c6"].Message != "5 lines" {
		t.Fatalf("logs: %q", l.reports["c6"].Message)
	}
	var inv InventoryReport
	if err := json.Unmarshal([]byte(l.reports["c7"].Message), &inv); err != nil || inv.Total != 1 || len(inv.Packages) != 1 {
		t.Fatalf("inventory message: %q", l.reports["c7"].Message)
	}
	if exec.submitted[2].TaskType != db.TaskUninstall || exec.submitted[2].DownloadURL != "" {
		t.Fatalf("uninstall task: %+v", exec.submitted[2])
	}

	ev := j.list()
	reportIdx, rebootIdx := -1, -1
	for i, e := range ev {
		if e == "report c4 SUCCESS" {
			reportIdx = i
		}
		if e == "reboot nightly" {
			rebootIdx = i
		}
	}
	if reportIdx < 0 || rebootIdx < 0 || rebootIdx < reportIdx {
		t.Fatalf("reboot must follow its report: %v", ev)
	}
}

func TestRebootWaitsForWholeBatch(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, cmds: []ledgerclient.Command{
		cmd("c1", CommandReboot, `{"reason":"nightly"}`),
		cmd("c2", CommandApplyPolicy, `{}`),
		cmd("c3", CommandInstallApp, `{"package_name":"com.example.app","url":"https://x/a.zip"}`),
	}}
	d := New(l, &fakeExec{}, fakeActions{j}, flag(true), 10)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"report c1 SUCCESS", "report c2 SUCCESS", "report c3 SUCCESS", "reboot nightly"}
	got := j.list()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

type logActions struct {
	fakeActions
	logs string
}

func (a logActions) CollectLogs(int) (string, error) { return a.logs, nil }

func TestCollectLogsKeepsNewestLines(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&b, "line %02d %s\n", i, strings.Repeat("x", 94))
	}
	logs := strings.TrimRight(b.String(), "\n")
	if len(logs) <= ledgerclient.MaxMessageLen {
		t.Fatalf("fixture too short: %d", len(logs))
	}

	j := &journal{}
	l := &fakeLedger{j: j, cmds: []ledgerclient.Command{cmd("c1", CommandCollectLogs, `{"lines":20}`)}}
	d := New(l, &fakeExec{}, logActions{fakeActions: fakeActions{j}, logs: logs}, flag(true), 5)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	msg := l.reports["c1"].Message
	if len(msg) > ledgerclient.MaxMessageLen {
		t.Fatalf("message is %d bytes", len(msg))
	}
	if !strings.HasPrefix(msg, "line ") {
		t.Fatalf("message does not start on a line boundary: %q", msg[:20])
	}
	if !strings.HasSuffix(msg, "line 20 "+strings.Repeat("x", 94)) {
		t.Fatalf("newest line missing: %q", msg[len(msg)-40:])
	}
}

func TestInventoryMessageStaysParseable(t *testing.T) {
	inv := make([]pipeline.PackageInfo, 40)
	for i := range inv {
		inv[i] = pipeline.PackageInfo{PackageName: fmt.Sprintf("com.example.package.number%02d", i), VersionName: "1.0.0", VersionCode: 100, Installed: true}
	}
	j := &journal{}
	l := &fakeLedger{j: j, cmds: []ledgerclient.Command{cmd("c1", CommandSyncInventory, `{}`)}}
	d := New(l, &fakeExec{inventory: inv}, fakeActions{j}, flag(true), 5)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	msg := l.reports["c1"].Message
	if len(msg) > ledgerclient.MaxMessageLen {
		t.Fatalf("message is %d bytes", len(msg))
	}
	var rep InventoryReport
	if err := json.Unmarshal([]byte(msg), &rep); err != nil {
		t.Fatalf("inventory message not JSON: %v", err)
	}
	if rep.Total != 40 || len(rep.Packages) == 0 || len(rep.Packages) >= 40 {
		t.Fatalf("total=%d packages=%d", rep.Total, len(rep.Packages))
	}
}

func TestClipHeadKeepsRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{strings.Repeat("a", 1023) + "é", 1024, strings.Repeat("a", 1023)},
		{"héllo", 2, "h"},
		{"日本語", 4, "日"},
	}
	for _, tc := range cases {
		got := clipHead(tc.in, tc.n)
		if got != tc.want || !utf8.ValidString(got) {
			t.Fatalf("clipHead(%q, %d) = %q", tc.in, tc.n, got)
		}
	}
	if got := tailLines("ab\n日本語", 5); got != "語" || !utf8.ValidString(got) {
		t.Fatalf("tailLines = %q", got)
	}
}

func TestPullFailureAbortsCycle(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, pullErr: errors.New("connection refused"), checkErr: errors.New("check down")}
	d := New(l, &fakeExec{}, fakeActions{j}, flag(true), 5)
	err := d.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if l.pulls.Load() != 1 {
		t.Fatal("a failed update check must not prevent the pull")
	}
	if len(l.reports) != 0 {
		t.Fatalf("nothing should be reported: %v", l.reports)
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, block: make(chan struct{})}
	d := New(l, &fakeExec{}, fakeActions{j}, flag(true), 5)

	done := make(chan error, 1)
	go func() { done <- d.RunOnce(context.Background()) }()
	for l.pulls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := d.RunOnce(context.Background()); !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected ErrSkipped, got %v", err)
	}
	close(l.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
}

func TestHostRetriesFailedCycle(t *testing.T) {
	j := &journal{}
	l := &fakeLedger{j: j, pullErr: errors.New("offline")}
	d := New(l, &fakeExec{}, fakeActions{j}, flag(true), 5)
	h, err := NewHost(d, "@every 1h", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	h.Start(context.Background())
	defer h.Stop()

	h.Trigger()
	deadline := time.Now().Add(3 * time.Second)
	for l.pulls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected retries, got %d pulls", l.pulls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewHostRejectsBadSchedule(t *testing.T) {
	if _, err := NewHost(New(&fakeLedger{}, &fakeExec{}, fakeActions{}, flag(true), 1), "every tuesday", 0); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatchConnectivityTriggersOnRestore(t *testing.T) {
	var calls atomic.Int32
	var restored atomic.Int32
	probe := func(context.Context) error {
		n := calls.Add(1)
		if n >= 2 && n <= 3 {
			return errors.New("down")
		}
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go WatchConnectivity(ctx, probe, 5*time.Millisecond, func() { restored.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 6 {
		if time.Now().After(deadline) {
			t.Fatal("probe not called")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if restored.Load() != 1 {
		t.Fatalf("expected one restore, got %d", restored.Load())
	}
}
