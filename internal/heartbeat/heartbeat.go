// Package heartbeat implements the client-side polling loop: report
// execution state, receive an update instruction, and act on it without
// blocking the next poll on a long-running task.
package heartbeat

import (
	"context"
	"time"

	"github.com/fedmesh/node/internal/dispatch"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/pkg/logger"
)

// ExitCode mirrors the process exit codes a client reports on shutdown.
type ExitCode int

const (
	ExitNormal       ExitCode = 0
	ExitSelfUpdate   ExitCode = 1
	ExitFatal        ExitCode = 2
)

// UpdateKind enumerates the variants of UpdateData the coordinator may send
// back in response to a heartbeat poll.
type UpdateKind string

const (
	UpdateNothing        UpdateKind = "NOTHING"
	UpdateExecuteJob     UpdateKind = "EXECUTE_JOB"
	UpdateNewPublicKey   UpdateKind = "UPDATE_PUBLIC_KEY"
	UpdateExit           UpdateKind = "EXIT"
)

// UpdateData is the decoded, decrypted instruction a heartbeat poll
// returns. Exactly the fields relevant to Kind are populated.
type UpdateData struct {
	Kind          UpdateKind
	JobID         string
	JobKind       job.Kind
	TaskParams    []byte // encrypted task parameters, opaque to this package
	NewPublicKey  []byte // new node public key PEM the client must trust
	ExitCode      ExitCode
}

// ActionState is what the client reports on every poll: what it is
// currently doing, used by the coordinator only for observability.
type ActionState struct {
	Idle      bool
	RunningID string
}

// Transport abstracts the signed round-trip to the coordinator's
// /client/update route so this package stays transport-agnostic.
type Transport interface {
	PollUpdate(ctx context.Context, state ActionState) (UpdateData, error)
	FetchTaskParams(ctx context.Context, jobID string) ([]byte, error)
	UploadResult(ctx context.Context, jobID string, blob []byte) error
	UploadTaskError(ctx context.Context, jobID string, message string) error
}

// Loop runs the cooperative heartbeat loop: poll, act, repeat. Execution of
// a received job is handed to a separate goroutine so the next poll is
// never blocked on task completion — matching the single-threaded
// cooperative scheduling the client uses everywhere else.
type Loop struct {
	transport Transport
	executor  dispatch.TaskExecutor
	interval  time.Duration
	log       *logger.Logger

	running chan string // non-empty while a job id is executing
}

// New constructs a heartbeat Loop.
func New(transport Transport, executor dispatch.TaskExecutor, interval time.Duration, log *logger.Logger) *Loop {
	if log == nil {
		log = logger.NewDefault("heartbeat")
	}
	return &Loop{
		transport: transport,
		executor:  executor,
		interval:  interval,
		log:       log,
		running:   make(chan string, 1),
	}
}

// Run polls until ctx is cancelled or the coordinator sends Exit, returning
// the process exit code to use.
func (l *Loop) Run(ctx context.Context) ExitCode {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitNormal
		case <-ticker.C:
			exit, stop := l.poll(ctx)
			if stop {
				return exit
			}
		}
	}
}

func (l *Loop) poll(ctx context.Context) (ExitCode, bool) {
	state := l.currentState()
	update, err := l.transport.PollUpdate(ctx, state)
	if err != nil {
		l.log.WithError(err).Warn("heartbeat poll failed")
		return ExitNormal, false
	}

	switch update.Kind {
	case UpdateNothing:
		return ExitNormal, false
	case UpdateExecuteJob:
		l.runJob(ctx, update)
		return ExitNormal, false
	case UpdateNewPublicKey:
		l.log.Info("coordinator rotated its public key")
		return ExitNormal, false
	case UpdateExit:
		l.log.WithField("exit_code", update.ExitCode).Info("coordinator requested exit")
		return update.ExitCode, true
	default:
		l.log.WithField("kind", update.Kind).Warn("unrecognised update kind")
		return ExitNormal, false
	}
}

func (l *Loop) currentState() ActionState {
	select {
	case id := <-l.running:
		l.running <- id
		return ActionState{Idle: false, RunningID: id}
	default:
		return ActionState{Idle: true}
	}
}

// runJob fetches task parameters and executes the job on a separate
// goroutine so the polling loop is free to continue immediately.
func (l *Loop) runJob(ctx context.Context, update UpdateData) {
	select {
	case l.running <- update.JobID:
	default:
		l.log.WithField("job_id", update.JobID).Warn("already executing a job, dropping instruction")
		return
	}

	go func() {
		defer func() { <-l.running }()

		params, err := l.transport.FetchTaskParams(ctx, update.JobID)
		if err != nil {
			l.log.WithError(err).WithField("job_id", update.JobID).Warn("fetch task params failed")
			_ = l.transport.UploadTaskError(ctx, update.JobID, err.Error())
			return
		}

		outcome, err := l.executor.Execute(ctx, dispatch.Task{
			Job:   job.Job{ID: update.JobID, Kind: update.JobKind},
			Query: params,
		})
		if err != nil {
			l.log.WithError(err).WithField("job_id", update.JobID).Warn("task execution failed")
			_ = l.transport.UploadTaskError(ctx, update.JobID, err.Error())
			return
		}
		if outcome.Error != nil {
			_ = l.transport.UploadTaskError(ctx, update.JobID, outcome.Error.Message)
			return
		}
		if err := l.transport.UploadResult(ctx, update.JobID, outcome.Blob); err != nil {
			l.log.WithError(err).WithField("job_id", update.JobID).Warn("upload result failed")
		}
	}()
}
