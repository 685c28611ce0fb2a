package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"eventvault/internal/archive"
)

var (
	appName      string
	appLanguages []string
)

// appCmd represents the app command group
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage the application catalog",
	Long: `Register and list applications known to the engine.

Backups read app metadata from the catalog into the archive header; restores
create new catalog entries from archive headers automatically.`,
}

var appRegisterCmd = &cobra.Command{
	Use:   "register <app-id>",
	Short: "Register an existing application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		meta := archive.AppMetadata{
			ID:        args[0],
			Name:      appName,
			Languages: appLanguages,
		}
		if meta.Name == "" {
			meta.Name = meta.ID
		}
		if err := eng.apps.Register(ctx, meta); err != nil {
			return err
		}
		fmt.Printf("app %s registered\n", meta.ID)
		return nil
	},
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered applications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		ids, err := eng.apps.List(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("no registered apps")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	appRegisterCmd.Flags().StringVar(&appName, "name", "", "display name (defaults to the app id)")
	appRegisterCmd.Flags().StringSliceVar(&appLanguages, "languages", nil, "language codes configured on the app")

	appCmd.AddCommand(appRegisterCmd)
	appCmd.AddCommand(appListCmd)
	rootCmd.AddCommand(appCmd)
}
