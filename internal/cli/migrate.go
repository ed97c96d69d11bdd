package cli

import (
	"fmt"

	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", repo.Driver())
			return nil
		},
	}
}

// openRepository connects to the SQL database and brings its schema up to date.
func openRepository(cfg config.Config) (*repository.Repository, error) {
	repo, err := repository.NewRepository(&repository.Credentials{
		Driver:            cfg.Database.Driver,
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		DBName:            cfg.Database.Name,
		SQLitePath:        cfg.Database.SQLitePath,
		MigrationsDirPath: cfg.Database.MigrationsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
