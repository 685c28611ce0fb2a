package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eventvault/internal/backup"
)

var (
	backupAppID    string
	downloadOutput string
)

// backupCmd represents the backup command group
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage application backups",
	Long: `Create, list, download and delete application backups.

A backup exports the app's complete event history plus binary attachments
into a single portable archive. At most one backup runs per app at a time.

Examples:
  # Back up an app and wait for completion
  eventvault backup start --app my-app

  # List backups, newest first
  eventvault backup list --app my-app

  # Download a finalized archive
  eventvault backup download --app my-app <job-id> -o my-app.zip

  # Delete a backup and its archive
  eventvault backup delete --app my-app <job-id>`,
}

var backupStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a backup and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		job, err := eng.backups.Start(ctx, backupAppID)
		if err != nil {
			return err
		}
		fmt.Printf("backup job %s started for app %s\n", job.ID, backupAppID)

		eng.backups.Wait(backupAppID)

		final, err := eng.backups.Get(ctx, backupAppID, job.ID)
		if err != nil {
			return err
		}
		fmt.Printf("status: %s, events: %d, attachments: %d\n",
			statusString(final.Status), final.HandledEvents, final.HandledAttachments)
		if final.Status == backup.JobStatusFailed {
			return fmt.Errorf("backup job %s failed", final.ID)
		}
		fmt.Printf("archive: %s\n", final.ArchiveKey)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups for an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		jobs, err := eng.backups.List(ctx, backupAppID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Printf("no backups for app %s\n", backupAppID)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tSTARTED\tSTATUS\tEVENTS\tATTACHMENTS\tARCHIVE")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				job.ID,
				job.StartedAt.Format("2006-01-02 15:04:05"),
				statusString(job.Status),
				job.HandledEvents,
				job.HandledAttachments,
				job.ArchiveKey)
		}
		return w.Flush()
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a backup record and its archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		if err := eng.backups.Delete(ctx, backupAppID, args[0]); err != nil {
			return err
		}
		fmt.Printf("backup %s deleted\n", args[0])
		return nil
	},
}

var backupDownloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the archive of a completed backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		rc, key, err := eng.backups.Download(ctx, backupAppID, args[0])
		if err != nil {
			return err
		}
		defer rc.Close()

		out := downloadOutput
		if out == "" {
			out = args[0] + ".zip"
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		n, err := io.Copy(f, rc)
		if err != nil {
			return fmt.Errorf("failed to download archive %s: %w", key, err)
		}
		fmt.Printf("wrote %d bytes to %s\n", n, out)
		return nil
	},
}

func init() {
	backupCmd.PersistentFlags().StringVar(&backupAppID, "app", "", "application id (required)")
	backupCmd.MarkPersistentFlagRequired("app")

	backupDownloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "output file (default <job-id>.zip)")

	backupCmd.AddCommand(backupStartCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupDownloadCmd)
	rootCmd.AddCommand(backupCmd)
}
