// Package training implements C9: a per-worker finite state machine that
// advances a TrainingJob through dataset collection, training, validation,
// and deployment, publishing progress as it goes. The actual compute
// behind each stage is an opaque external collaborator (per the
// specification's scope); Supervisor only owns the state machine, the
// progress reporting, and the hand-off to the worker registry on success.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
)

// Mode is the orchestration strategy across multiple jobs.
type Mode string

const (
	ModeSequential   Mode = "sequential"
	ModeParallel     Mode = "parallel"
	ModePhaseParallel Mode = "phase-parallel"
)

// StageExecutor performs the actual (opaque) work of one stage. The
// default, test-mode executor simulates each stage quickly; a production
// executor would drive real dataset collection and training compute.
type StageExecutor interface {
	CollectDataset(ctx context.Context, job *domain.TrainingJob) (collected int, err error)
	ProcessDataset(ctx context.Context, job *domain.TrainingJob) error
	Train(ctx context.Context, job *domain.TrainingJob) (loss float64, err error)
	Validate(ctx context.Context, job *domain.TrainingJob) (domain.ValidationReport, error)
	Deploy(ctx context.Context, job *domain.TrainingJob) (domain.Worker, error)
}

// Supervisor owns every TrainingJob and drives its state machine.
type Supervisor struct {
	log          zerolog.Logger
	executor     StageExecutor
	registry     domain.WorkerRegistry
	metrics      domain.MetricsSink
	phases       [][]string
	workspaceDir string

	mu      sync.RWMutex
	jobs    map[string]*domain.TrainingJob
	cancels map[string]context.CancelFunc
}

// New constructs a Supervisor. phases is the ordered list of worker-key
// groups used by RunPhased; a nil/empty phases list still allows
// SubmitJob/StartTraining for individual jobs. workspaceDir is the root of
// the on-disk artefact tree (workspaceDir/<key>/{datasets,models,results,logs}
// plus workspaceDir/training_report.json); artefacts are skipped if empty.
func New(log zerolog.Logger, executor StageExecutor, registry domain.WorkerRegistry, metrics domain.MetricsSink, phases [][]string, workspaceDir string) *Supervisor {
	return &Supervisor{
		log:          log.With().Str("component", "training").Logger(),
		executor:     executor,
		registry:     registry,
		metrics:      metrics,
		phases:       phases,
		workspaceDir: workspaceDir,
		jobs:         make(map[string]*domain.TrainingJob),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// SubmitJob registers a new job in the Idle stage. Returns an error if a
// job for this key exists and has not reached a terminal stage (an Idle job
// that was submitted but not started counts as in progress).
func (s *Supervisor) SubmitJob(key string) (*domain.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[key]; ok && !existing.IsTerminal() {
		return nil, fmt.Errorf("training job %s already in progress", key)
	}

	job := &domain.TrainingJob{
		Key:       key,
		Stage:     domain.StageIdle,
		StartedAt: time.Now(),
	}
	s.jobs[key] = job
	if err := s.ensureJobDirs(key); err != nil {
		s.log.Warn().Str("job", key).Err(err).Msg("create workspace directories")
	}
	return job, nil
}

// GetJob returns a snapshot copy of the job for key.
func (s *Supervisor) GetJob(key string) (domain.TrainingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[key]
	if !ok {
		return domain.TrainingJob{}, false
	}
	return *j, true
}

// ListJobs returns a snapshot of every job.
func (s *Supervisor) ListJobs() []domain.TrainingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrainingJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Cancel transitions a running job to Failed with reason Cancelled.
func (s *Supervisor) Cancel(key string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("training job %s not running", key)
	}
	cancel()
	return nil
}

// StartTraining runs the state machine for one job to completion (or
// failure), synchronously. Callers typically invoke it in a goroutine.
func (s *Supervisor) StartTraining(ctx context.Context, key string) error {
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	job, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("training job %s not submitted", key)
	}
	s.cancels[key] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, key)
		s.mu.Unlock()
	}()

	type stageFn func(context.Context, *domain.TrainingJob) error
	stages := []struct {
		stage domain.Stage
		run   stageFn
	}{
		{domain.StageDatasetCollection, s.runCollection},
		{domain.StageDatasetProcessing, s.runProcessing},
		{domain.StageModelTraining, s.runTraining},
		{domain.StageValidation, s.runValidation},
		{domain.StageDeployment, s.runDeployment},
	}

	for _, st := range stages {
		select {
		case <-jobCtx.Done():
			s.fail(job, st.stage, "Cancelled", jobCtx.Err())
			return jobCtx.Err()
		default:
		}

		s.setStage(job, st.stage)
		if err := st.run(jobCtx, job); err != nil {
			detail := err.Error()
			if errors.Is(err, context.Canceled) {
				detail = "Cancelled"
			}
			s.fail(job, st.stage, detail, err)
			return err
		}
	}

	s.mu.Lock()
	job.Stage = domain.StageComplete
	job.ProgressPct = 100
	s.mu.Unlock()
	s.writeTrainingReport()
	return nil
}

func (s *Supervisor) setStage(job *domain.TrainingJob, stage domain.Stage) {
	s.mu.Lock()
	job.Stage = stage
	low, _, _ := domain.ProgressBand(stage)
	if float64(low) > job.ProgressPct {
		job.ProgressPct = float64(low)
	}
	s.mu.Unlock()
}

func (s *Supervisor) publishProgress(job *domain.TrainingJob, stage domain.Stage, frac float64) {
	low, high, ok := domain.ProgressBand(stage)
	if !ok {
		return
	}
	pct := float64(low) + frac*float64(high-low)

	s.mu.Lock()
	if pct > job.ProgressPct {
		job.ProgressPct = pct
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(job *domain.TrainingJob, stage domain.Stage, detail string, cause error) {
	s.mu.Lock()
	job.Stage = domain.StageFailed
	job.LastAttemptedStage = stage
	job.Errors = append(job.Errors, domain.Failure(stage, detail, cause).Error())
	s.mu.Unlock()
	s.log.Warn().Str("job", job.Key).Str("stage", string(stage)).Err(cause).Msg("training stage failed")
	s.appendLog(job.Key, fmt.Sprintf("FAILED at %s: %s", stage, detail))
	s.writeTrainingReport()
}

func (s *Supervisor) runCollection(ctx context.Context, job *domain.TrainingJob) error {
	collected, err := s.executor.CollectDataset(ctx, job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	job.DatasetCollected = collected
	job.CurrentStep = "dataset collection complete"
	s.mu.Unlock()
	s.writeJSONArtefact(job.Key, "datasets", "summary.json", map[string]any{
		"collected": collected,
	})
	s.appendLog(job.Key, fmt.Sprintf("collected %d examples", collected))
	s.publishProgress(job, domain.StageDatasetCollection, 1)
	return nil
}

func (s *Supervisor) runProcessing(ctx context.Context, job *domain.TrainingJob) error {
	if err := s.executor.ProcessDataset(ctx, job); err != nil {
		return err
	}
	s.appendLog(job.Key, "dataset processing complete")
	s.publishProgress(job, domain.StageDatasetProcessing, 1)
	return nil
}

func (s *Supervisor) runTraining(ctx context.Context, job *domain.TrainingJob) error {
	loss, err := s.executor.Train(ctx, job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	job.TrainingLoss = &loss
	s.mu.Unlock()
	s.writeJSONArtefact(job.Key, "models", "model.json", map[string]any{
		"training_loss": loss,
	})
	s.appendLog(job.Key, fmt.Sprintf("training complete, loss=%.4f", loss))
	s.publishProgress(job, domain.StageModelTraining, 1)
	return nil
}

func (s *Supervisor) runValidation(ctx context.Context, job *domain.TrainingJob) error {
	report, err := s.executor.Validate(ctx, job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	job.Validation = &report
	s.mu.Unlock()
	if !report.MeetsTarget {
		// Missing the advantage target is a warning, not a failure: the job
		// still proceeds to Deployment.
		s.log.Warn().Str("job", job.Key).Float64("advantage", report.Advantage).Msg("specialist advantage below target")
	}
	s.writeJSONArtefact(job.Key, "results", "validation.json", report)
	s.appendLog(job.Key, fmt.Sprintf("validation advantage=%.4f meets_target=%v", report.Advantage, report.MeetsTarget))
	s.publishProgress(job, domain.StageValidation, 1)
	return nil
}

func (s *Supervisor) runDeployment(ctx context.Context, job *domain.TrainingJob) error {
	worker, err := s.executor.Deploy(ctx, job)
	if err != nil {
		return err
	}
	if err := s.registry.Register(worker); err != nil {
		return err
	}
	if _, err := s.registry.ProbeOnce(ctx, worker); err != nil {
		return fmt.Errorf("deployed worker %s did not pass its initial health probe: %w", worker.Name, err)
	}
	s.appendLog(job.Key, fmt.Sprintf("deployed %s on port %d, passed initial health probe", worker.Name, worker.Port))
	s.publishProgress(job, domain.StageDeployment, 1)
	return nil
}

// writeJSONArtefact writes v as indented JSON under
// workspaceDir/<key>/<subdir>/<file>. A no-op if workspaceDir is unset;
// failures are logged, not propagated, since artefact bookkeeping must
// never fail a training run.
func (s *Supervisor) writeJSONArtefact(key, subdir, file string, v any) {
	if s.workspaceDir == "" {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.log.Warn().Str("job", key).Err(err).Msg("marshal training artefact")
		return
	}
	path := filepath.Join(s.workspaceDir, key, subdir, file)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn().Str("job", key).Err(err).Msg("write training artefact")
	}
}

// ensureJobDirs creates the artefact directory tree for a job.
func (s *Supervisor) ensureJobDirs(key string) error {
	if s.workspaceDir == "" {
		return nil
	}
	for _, sub := range []string{"datasets", "models", "results", "logs"} {
		if err := os.MkdirAll(filepath.Join(s.workspaceDir, key, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// appendLog appends one timestamped line to the job's log file.
func (s *Supervisor) appendLog(key, line string) {
	if s.workspaceDir == "" {
		return
	}
	path := filepath.Join(s.workspaceDir, key, "logs", "training.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn().Str("job", key).Err(err).Msg("open training log")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), line)
}

// writeTrainingReport serializes the current state of every job to
// workspaceDir/training_report.json, overwriting the previous report.
// Called whenever a job reaches a terminal stage.
func (s *Supervisor) writeTrainingReport() {
	if s.workspaceDir == "" {
		return
	}
	if err := os.MkdirAll(s.workspaceDir, 0o755); err != nil {
		s.log.Warn().Err(err).Msg("create workspace directory")
		return
	}
	report := struct {
		GeneratedAt time.Time           `json:"generated_at"`
		Jobs        []domain.TrainingJob `json:"jobs"`
	}{
		GeneratedAt: time.Now(),
		Jobs:        s.ListJobs(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal training report")
		return
	}
	path := filepath.Join(s.workspaceDir, "training_report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("write training report")
	}
}

// RunPhased drives every job named in s.phases phase by phase: all jobs in
// a phase run concurrently; phases run one after another, and a phase with
// a failed job stops the run before the next phase. Jobs must already have
// been submitted via SubmitJob. RunPhased takes no Mode: it implements only
// this phase-parallel orchestration, and the Supervisor does not consume
// the ModeSequential or ModeParallel values.
func (s *Supervisor) RunPhased(ctx context.Context) error {
	for _, phase := range s.phases {
		var wg sync.WaitGroup
		errs := make([]error, len(phase))
		for i, key := range phase {
			wg.Add(1)
			go func(i int, key string) {
				defer wg.Done()
				errs[i] = s.StartTraining(ctx, key)
			}(i, key)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return nil
}
