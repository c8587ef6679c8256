package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nova-gateway/gateway/internal/daemon"
)

func init() {
	rootCmd.AddCommand(trainCmd)
}

var trainCmd = &cobra.Command{
	Use:   "train <key>",
	Short: "Drive the training supervisor for one worker, in test mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	key := args[0]

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.Supervisor.SubmitJob(key); err != nil {
		return err
	}

	runErr := d.Supervisor.StartTraining(context.Background(), key)

	job, _ := d.Supervisor.GetJob(key)
	fmt.Printf("worker %q: stage=%s progress=%.0f%%\n", key, job.Stage, job.ProgressPct)
	if job.Validation != nil {
		fmt.Printf("  specialist=%.3f generalist=%.3f advantage=%.3f meets_target=%v\n",
			job.Validation.SpecialistScore, job.Validation.GeneralistScore,
			job.Validation.Advantage, job.Validation.MeetsTarget)
	}
	return runErr
}
