package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"netreaper/cmd/internal/command"
	"netreaper/cmd/internal/fault"
	"netreaper/cmd/internal/ids"
	"netreaper/cmd/internal/metrics"
	"netreaper/cmd/security/sanitize"
)

const (
	defaultTimeout  = 2 * time.Hour
	maxTargetRunes  = 255
	storeOpTimeout  = 5 * time.Second
	eventBufferSize = 256
)

// Notes returned when there is nothing to report.
const (
	NoteNoOutput      = "No scan output available"
	NoteOutputMissing = "Scan output file missing"
)

// Runner executes the scanner binary.
type Runner interface {
	Run(ctx context.Context, spec command.Spec, onLine func(string)) (command.Result, error)
}

// Publisher receives sanitized log lines.
type Publisher interface {
	Publish(line string)
}

// Config locates the scanner and its output.
type Config struct {
	Root      string
	OutputDir string
	Bin       string
	Timeout   time.Duration
}

type eventKind uint8

const (
	evStarted eventKind = iota + 1
	evLine
	evFinished
)

type event struct {
	kind   eventKind
	jobID  string
	at     time.Time
	line   string
	result command.Result
	err    error
}

// Manager owns scan jobs. Job goroutines only emit events; a single
// aggregator goroutine applies them to the store and the log fan-out, so
// job state has one writer.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	store   Store
	runner  Runner
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	events  chan event
	aggDone chan struct{}

	mu     sync.Mutex
	closed bool
	jobs   sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option { return func(mg *Manager) { mg.metrics = m } }

func WithClock(now func() time.Time) Option {
	return func(mg *Manager) {
		if now != nil {
			mg.now = now
		}
	}
}

// NewManager starts the aggregator. Call Close to stop running scans.
func NewManager(log *slog.Logger, cfg Config, store Store, runner Runner, pub Publisher, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore(0)
	}
	if runner == nil {
		runner = command.Runner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:     log,
		cfg:     cfg,
		store:   store,
		runner:  runner,
		pub:     pub,
		now:     func() time.Time { return time.Now().UTC() },
		baseCtx: ctx,
		cancel:  cancel,
		events:  make(chan event, eventBufferSize),
		aggDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	go m.aggregate()
	return m
}

// Submit validates the request, records a queued job, and starts the scan
// in the background.
func (m *Manager) Submit(ctx context.Context, target string, mode Mode, createdBy string) (Job, error) {
	target = strings.TrimSpace(target)
	if err := ValidateTarget(target); err != nil {
		return Job{}, err
	}
	switch Mode(strings.ToLower(string(mode))) {
	case "", ModeQuick:
		mode = ModeQuick
	case ModeWifi:
		mode = ModeWifi
	default:
		return Job{}, ErrInvalidMode
	}
	bin, err := ResolveBinary(m.cfg.Root, m.cfg.Bin)
	if err != nil {
		return Job{}, err
	}

	now := m.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:        id,
		Target:    target,
		Mode:      mode,
		Status:    StatusQueued,
		CreatedBy: createdBy,
		CreatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, ErrClosed
	}
	if err := m.store.Create(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create scan job: %w", err)
	}
	m.publish(fmt.Sprintf("Queued NetReaper scan job %s for %s", job.ID, target))
	m.log.Info("scan.job.queued", "job_id", job.ID, "target", target, "mode", string(mode), "created_by", createdBy)

	m.jobs.Add(1)
	go m.run(job, bin)
	return job, nil
}

// Status returns a job by id.
func (m *Manager) Status(ctx context.Context, id string) (Job, error) {
	id = strings.TrimSpace(id)
	if !ids.IsULID(id) {
		return Job{}, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// DevicesResult is the device listing of the most recent scan.
type DevicesResult struct {
	Devices any    `json:"devices"`
	Note    string `json:"note,omitempty"`
}

// Devices lists what the most recent artifact reports.
func (m *Manager) Devices(ctx context.Context) (DevicesResult, error) {
	ls, ok, err := m.store.LastScan(ctx)
	if err != nil {
		return DevicesResult{}, err
	}
	if !ok {
		return DevicesResult{Devices: []Device{}, Note: NoteNoOutput}, nil
	}
	if _, err := os.Stat(ls.OutputFile); err != nil {
		return DevicesResult{Devices: []Device{}, Note: NoteOutputMissing}, nil
	}
	sum, err := Summarize(ls.OutputFile)
	if err != nil {
		return DevicesResult{}, err
	}
	return DevicesResult{Devices: sum.Devices}, nil
}

// Report summarizes the most recent scan.
type Report struct {
	OK          bool       `json:"ok"`
	Target      string     `json:"target,omitempty"`
	OutputFile  string     `json:"output_file,omitempty"`
	ScannedAt   *time.Time `json:"scanned_at,omitempty"`
	DeviceCount int        `json:"device_count"`
	PortsOpen   int        `json:"ports_open"`
	Note        string     `json:"note,omitempty"`
}

func (m *Manager) Report(ctx context.Context) (Report, error) {
	ls, ok, err := m.store.LastScan(ctx)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{Note: NoteNoOutput}, nil
	}
	if _, err := os.Stat(ls.OutputFile); err != nil {
		return Report{Note: NoteOutputMissing}, nil
	}
	sum, err := Summarize(ls.OutputFile)
	if err != nil {
		return Report{}, err
	}
	at := ls.ScannedAt
	return Report{
		OK:          true,
		Target:      ls.Target,
		OutputFile:  ls.OutputFile,
		ScannedAt:   &at,
		DeviceCount: sum.DeviceCount,
		PortsOpen:   sum.PortsOpen,
	}, nil
}

// Close cancels running scans and waits for the aggregator to drain.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.jobs.Wait()
	close(m.events)
	<-m.aggDone
	return nil
}

// ValidateTarget applies the command validator's token rules to a scan
// target and refuses anything that could be read as a flag.
func ValidateTarget(target string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	if utf8.RuneCountInString(target) > maxTargetRunes {
		return fault.Reject("Target exceeds maximum length.")
	}
	if strings.HasPrefix(target, "-") {
		return fault.Reject("Target must not start with '-'.")
	}
	if strings.IndexFunc(target, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fault.Reject("Target must be a single token.")
	}
	return command.CheckTokens(target)
}

func (m *Manager) run(job Job, bin string) {
	defer m.jobs.Done()

	argv := append([]string{bin}, job.Mode.args(job.Target)...)
	m.events <- event{kind: evStarted, jobID: job.ID, at: m.now(), line: strings.Join(argv, " ")}

	env := append(os.Environ(), "NETREAPER_ROOT="+m.cfg.Root, "OUTPUT_DIR="+m.cfg.OutputDir)
	res, err := m.runner.Run(m.baseCtx, command.Spec{
		Argv:    argv,
		Dir:     m.cfg.Root,
		Env:     env,
		Timeout: m.cfg.Timeout,
	}, func(line string) {
		m.events <- event{kind: evLine, jobID: job.ID, line: line}
	})

	m.events <- event{kind: evFinished, jobID: job.ID, at: m.now(), result: res, err: err}
}

func (m *Manager) aggregate() {
	defer close(m.aggDone)
	for ev := range m.events {
		switch ev.kind {
		case evStarted:
			m.publish("Starting NetReaper scan: " + sanitize.RedactCommand(ev.line))
			m.updateJob(ev.jobID, func(j *Job) {
				at := ev.at
				j.Status = StatusRunning
				j.StartedAt = &at
			})
		case evLine:
			m.publish(sanitize.Redact(ev.line))
		case evFinished:
			m.finish(ev)
		}
	}
}

// finish records the outcome. The job is stored last so a caller polling
// for a terminal status also sees the last-scan pointer and every log line.
func (m *Manager) finish(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	job, err := m.store.Get(ctx, ev.jobID)
	if err != nil {
		m.log.Error("scan.job.load.fail", "job_id", ev.jobID, "err", err)
		return
	}

	at := ev.at
	code := ev.result.ExitCode
	job.CompletedAt = &at
	job.ReturnCode = &code
	job.Status = StatusFailed
	if ev.err == nil && code == 0 {
		job.Status = StatusSuccess
	}
	if ev.err != nil {
		job.Error = sanitize.Redact(scanErrMessage(ev.err))
	}
	if file, ok, err := LatestArtifact(m.cfg.OutputDir, job.Mode.artifactPattern()); err == nil && ok {
		job.OutputFile = file
		if err := m.store.SetLastScan(ctx, LastScan{OutputFile: file, Target: job.Target, ScannedAt: at}); err != nil {
			m.log.Error("scan.last.update.fail", "job_id", job.ID, "err", err)
		}
	}

	m.metrics.ScanJob(string(job.Status))
	m.log.Info("scan.job.finished",
		"job_id", job.ID,
		"status", string(job.Status),
		"return_code", code,
		"output_file", job.OutputFile,
		"err", job.Error,
	)
	m.publish(fmt.Sprintf("NetReaper scan completed with code %d", code))

	if err := m.store.Update(ctx, job); err != nil {
		m.log.Error("scan.job.update.fail", "job_id", job.ID, "err", err)
	}
}

func (m *Manager) updateJob(id string, mutate func(*Job)) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.log.Error("scan.job.load.fail", "job_id", id, "err", err)
		return
	}
	mutate(&job)
	if err := m.store.Update(ctx, job); err != nil {
		m.log.Error("scan.job.update.fail", "job_id", id, "err", err)
	}
}

func (m *Manager) publish(line string) {
	if m.pub != nil {
		m.pub.Publish(line)
	}
}

func scanErrMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "scan cancelled"
	}
	var ee fault.ExecError
	if errors.As(err, &ee) && ee.Cause != nil {
		return ee.Cause.Error()
	}
	return err.Error()
}
