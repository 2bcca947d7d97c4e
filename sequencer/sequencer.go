// Package sequencer fixes the order of a build: provision a database, migrate
// it, generate code from it and tear it down.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/logger"
)

// State is a step of the build lifecycle.
type State string

const (
	StateInit         State = "INIT"
	StateProvisioning State = "PROVISIONING"
	StateMigrating    State = "MIGRATING"
	StateGenerating   State = "GENERATING"
	StateTeardown     State = "TEARDOWN"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Stage names the step a failure came from.
type Stage string

const (
	StageProvision Stage = "provision"
	StageMigrate   Stage = "migrate"
	StageGenerate  Stage = "generate"
)

// Provisioner starts and discards the build database.
type Provisioner interface {
	Start(ctx context.Context) (config.Connection, error)
	Stop(ctx context.Context) error
}

// Migrator brings the database schema up to date.
type Migrator interface {
	Apply(ctx context.Context, conn config.Connection) error
}

// CodeGenerator writes code derived from the migrated schema.
type CodeGenerator interface {
	Generate(ctx context.Context, conn config.Connection) error
}

// Report is the outcome of one Run.
type Report struct {
	State  State
	Failed bool
	Stage  Stage // set when Failed
	Err    error // first failure
	Trail  []State

	// TeardownErr is logged and reported here only; it never fails the build.
	TeardownErr error
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// MigrateOnly stops after migrating and skips code generation.
func MigrateOnly() Option {
	return func(s *Sequencer) { s.migrateOnly = true }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Sequencer) { s.log = log }
}

// WithTeardownTimeout bounds how long teardown may take.
func WithTeardownTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.teardownTimeout = d }
}

// Sequencer runs the build lifecycle.
type Sequencer struct {
	provisioner     Provisioner
	migrator        Migrator
	generator       CodeGenerator
	migrateOnly     bool
	teardownTimeout time.Duration
	log             *logger.Logger
}

// New creates a Sequencer over the three stages.
func New(p Provisioner, m Migrator, g CodeGenerator, opts ...Option) *Sequencer {
	s := &Sequencer{
		provisioner:     p,
		migrator:        m,
		generator:       g,
		teardownTimeout: time.Minute,
		log:             logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type run struct {
	report Report
	log    *logger.Logger
}

func (r *run) enter(st State) {
	r.report.State = st
	r.report.Trail = append(r.report.Trail, st)
	r.log.Debugf("state %s", st)
}

func (r *run) fail(stage Stage, err error) {
	r.report.Failed = true
	r.report.Stage = stage
	r.report.Err = err
	r.log.ErrorWith("build stage failed", err, map[string]interface{}{
		"stage": string(stage),
		"kind":  errs.KindOf(err).String(),
	})
	r.enter(StateFailed)
}

// Run executes the lifecycle. Once the database has been provisioned it is
// torn down exactly once on every exit path, including a panic in a later
// stage, which is re-raised after teardown. The reported error is always the
// first failure.
func (s *Sequencer) Run(ctx context.Context) (report Report) {
	r := &run{log: s.log}
	r.enter(StateInit)

	r.enter(StateProvisioning)
	conn, err := s.provisioner.Start(ctx)
	if err != nil {
		r.fail(StageProvision, err)
		r.enter(StateDone)
		return r.report
	}
	s.log.InfoWith("Database provisioned", map[string]interface{}{
		"url":    conn.Redacted(),
		"schema": conn.Schema,
	})

	defer func() {
		rec := recover()
		if rec != nil {
			r.fail(stageOf(r.report.State), fmt.Errorf("panic: %v", rec))
		}
		s.teardown(ctx, r)
		r.enter(StateDone)
		report = r.report
		if rec != nil {
			panic(rec)
		}
	}()

	r.enter(StateMigrating)
	if err := s.migrator.Apply(ctx, conn); err != nil {
		r.fail(StageMigrate, err)
		return r.report
	}

	if s.migrateOnly {
		s.log.Info("Skipping code generation")
		return r.report
	}

	r.enter(StateGenerating)
	if err := s.generator.Generate(ctx, conn); err != nil {
		r.fail(StageGenerate, err)
		return r.report
	}
	return r.report
}

// teardown stops the database on a context detached from ctx, so a cancelled
// build still releases the container.
func (s *Sequencer) teardown(ctx context.Context, r *run) {
	r.enter(StateTeardown)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.teardownTimeout)
	defer cancel()

	if err := s.provisioner.Stop(stopCtx); err != nil {
		r.report.TeardownErr = errs.TeardownFailure(err)
		s.log.With().Err(r.report.TeardownErr).Logger().Warn("teardown failed")
		return
	}
	s.log.Info("Database torn down")
}

func stageOf(st State) Stage {
	switch st {
	case StateGenerating:
		return StageGenerate
	case StateMigrating:
		return StageMigrate
	}
	return StageProvision
}
