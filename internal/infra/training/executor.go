package training

import (
	"context"
	"fmt"
	"time"

	"github.com/nova-gateway/gateway/internal/domain"
)

// TestModeExecutor simulates each stage in seconds rather than the hours or
// weeks a production run would take. It is the default executor used by
// the CLI's `train` command and by integration tests; a production
// deployment would substitute a StageExecutor backed by the real dataset
// pipeline and training compute described (but left external) by the
// specification.
type TestModeExecutor struct {
	StepDelay        time.Duration
	GeneralistScore  float64
	SpecialistScore  float64
	AdvantageTarget  float64
	WorkerPort       int
	WorkerDomain     domain.Domain
}

// NewTestModeExecutor builds an executor with sensible demo defaults.
func NewTestModeExecutor() *TestModeExecutor {
	return &TestModeExecutor{
		StepDelay:       200 * time.Millisecond,
		GeneralistScore: 0.62,
		SpecialistScore: 0.81,
		AdvantageTarget: 0.15,
		WorkerDomain:    domain.DomainWisdom,
	}
}

func (e *TestModeExecutor) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.StepDelay):
		return nil
	}
}

func (e *TestModeExecutor) CollectDataset(ctx context.Context, job *domain.TrainingJob) (int, error) {
	if err := e.sleep(ctx); err != nil {
		return 0, err
	}
	return 10000, nil
}

func (e *TestModeExecutor) ProcessDataset(ctx context.Context, job *domain.TrainingJob) error {
	return e.sleep(ctx)
}

func (e *TestModeExecutor) Train(ctx context.Context, job *domain.TrainingJob) (float64, error) {
	if err := e.sleep(ctx); err != nil {
		return 0, err
	}
	return 0.34, nil
}

func (e *TestModeExecutor) Validate(ctx context.Context, job *domain.TrainingJob) (domain.ValidationReport, error) {
	if err := e.sleep(ctx); err != nil {
		return domain.ValidationReport{}, err
	}
	advantage := (e.SpecialistScore - e.GeneralistScore) / e.GeneralistScore
	return domain.ValidationReport{
		GeneralistScore: e.GeneralistScore,
		SpecialistScore: e.SpecialistScore,
		Advantage:       advantage,
		MeetsTarget:     advantage >= e.AdvantageTarget,
	}, nil
}

func (e *TestModeExecutor) Deploy(ctx context.Context, job *domain.TrainingJob) (domain.Worker, error) {
	if err := e.sleep(ctx); err != nil {
		return domain.Worker{}, err
	}
	if e.WorkerPort == 0 {
		return domain.Worker{}, fmt.Errorf("deploy %s: no worker port configured", job.Key)
	}
	return domain.Worker{
		Name:   job.Key,
		Port:   e.WorkerPort,
		Domain: e.WorkerDomain,
	}, nil
}
