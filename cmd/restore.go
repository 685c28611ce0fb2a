package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eventvault/internal/backup"
)

var (
	restoreArchiveKey string
	restoreUser       string
)

// restoreCmd represents the restore command group
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore applications from archives",
	Long: `Replay a backup archive into a freshly created application.

Every entity id in the archive is remapped to a fresh id during replay, so a
restore never collides with existing data; restoring the same archive twice
produces two independent apps. At most one restore runs at a time across the
deployment.

Examples:
  # Restore an archive and wait for completion
  eventvault restore start --archive archives/my-app/<job-id>.zip

  # Check the most recent restore
  eventvault restore status`,
}

var restoreStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a restore and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		job, err := eng.restores.Start(ctx, restoreArchiveKey, restoreUser)
		if err != nil {
			return err
		}
		fmt.Printf("restore job %s started from %s\n", job.ID, restoreArchiveKey)

		eng.restores.Wait()

		final, err := eng.restores.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		fmt.Printf("status: %s, events: %d, attachments: %d\n",
			statusString(final.Status), final.HandledEvents, final.HandledAttachments)
		for _, entry := range final.Log {
			fmt.Printf("  %s  %s\n", entry.Timestamp.Format("15:04:05"), entry.Message)
		}
		if final.TargetAppID != "" {
			fmt.Printf("target app: %s\n", final.TargetAppID)
		}
		if final.Status != backup.JobStatusCompleted {
			return fmt.Errorf("restore job %s failed", final.ID)
		}
		return nil
	},
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent restore job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		job, err := eng.restores.Status(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Println("no restore jobs")
			return nil
		}

		fmt.Printf("job: %s\n", job.ID)
		fmt.Printf("status: %s\n", statusString(job.Status))
		fmt.Printf("source: %s\n", job.SourceArchiveKey)
		if job.TargetAppID != "" {
			fmt.Printf("target app: %s\n", job.TargetAppID)
		}
		fmt.Printf("events: %d, attachments: %d\n", job.HandledEvents, job.HandledAttachments)
		for _, entry := range job.Log {
			fmt.Printf("  %s  %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Message)
		}
		return nil
	},
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		jobs, err := eng.restores.List(ctx)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no restore jobs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tSTARTED\tSTATUS\tTARGET APP\tEVENTS\tSOURCE")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				job.ID,
				job.StartedAt.Format("2006-01-02 15:04:05"),
				statusString(job.Status),
				job.TargetAppID,
				job.HandledEvents,
				job.SourceArchiveKey)
		}
		return w.Flush()
	},
}

func init() {
	restoreStartCmd.Flags().StringVar(&restoreArchiveKey, "archive", "", "archive key in the archive store (required)")
	restoreStartCmd.Flags().StringVar(&restoreUser, "user", "", "initiating user reference")
	restoreStartCmd.MarkFlagRequired("archive")

	restoreCmd.AddCommand(restoreStartCmd)
	restoreCmd.AddCommand(restoreStatusCmd)
	restoreCmd.AddCommand(restoreListCmd)
	rootCmd.AddCommand(restoreCmd)
}
