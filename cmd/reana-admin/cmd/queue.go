package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the submission queue",
	}
	cmd.AddCommand(queueListCmd(), queueRemoveCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued submissions in dequeue order",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := redisClient(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			// The policy only affects scores written on enqueue; listing the
			// stored order works regardless of it.
			queue := repository.NewRedisSubmissionQueue(db, configuration.PolicyFifo)
			subs, err := queue.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tPRIORITY\tSTATE\tRETRIES\tENQUEUED")
			for _, sub := range subs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
					sub.Id, sub.Owner, sub.Priority, sub.State, sub.RetryCount,
					sub.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func queueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <workflow-id>",
		Short: "Remove a submission from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := redisClient(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			queue := repository.NewRedisSubmissionQueue(db, configuration.PolicyFifo)
			removed, err := queue.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("workflow %s is not queued", args[0])
			}
			fmt.Printf("removed %s from the queue\n", args[0])
			return nil
		},
	}
}
