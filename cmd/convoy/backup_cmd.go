package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var scope string
	var deployment string

	c := &cobra.Command{
		Use:   "backup",
		Short: "Archive the requested scope (configs, volumes, database, or full)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// database and full scopes dump through docker exec
			needDocker := scope == "database" || scope == "full"
			a, err := setup(needDocker)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			data := map[string]any{"scope": scope}
			if deployment != "" {
				row, err := a.store.GetByField(ctx, "deployments", "name", deployment)
				if err != nil {
					return fmt.Errorf("deployment %s: %w", deployment, err)
				}
				data["deployment_id"] = str(row, "reference_id")
			}

			row, err := a.store.Create(ctx, "backups", data)
			if err != nil {
				return err
			}

			row, err = a.transition(ctx, "backups", str(row, "reference_id"), "running")
			if err != nil {
				return err
			}

			fmt.Printf("backup %s: %s\n", str(row, "scope"), str(row, "status"))
			if path := str(row, "archive_path"); path != "" {
				fmt.Printf("  archive:  %s\n", path)
				fmt.Printf("  checksum: %s\n", str(row, "checksum"))
			}
			if key := str(row, "remote_key"); key != "" {
				fmt.Printf("  offsite:  %s\n", key)
			}
			return nil
		},
	}
	c.Flags().StringVar(&scope, "scope", "full", "Backup scope: configs|volumes|database|full")
	c.Flags().StringVar(&deployment, "deployment", "", "Deployment to capture database dumps from")
	return c
}
