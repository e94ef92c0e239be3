package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/sandbox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic queue, dispensary and billing API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func connect(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, cfg.MigrationsDir), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closeFn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closeFn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account (use this to bootstrap the first ADMIN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("CLINIC_USER_PASSWORD")
			}

			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := identity.NewService(identity.NewPatientRepo(pool), identity.NewStaffRepo(pool), nil, newLogger(cfg))
			u, err := svc.ProvisionUser(ctx, identity.NewStaffUser{Name: name, Email: email, Role: role, Password: password})
			if err != nil {
				return err
			}
			fmt.Printf("Created %s user %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("role", string(auth.RoleAdmin), "ADMIN, DOCTOR or NURSE")
	createCmd.Flags().String("password", "", "Initial password (or CLINIC_USER_PASSWORD)")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	defaults := sandbox.DefaultSeedConfig()
	var sc sandbox.SeedConfig

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients, stock, charges and an open queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed demo data in production")
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 4})
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			svc := newServices(pool, db.NewTransactor(pool, db.WithMaxRetries(cfg.TxMaxRetries)), nil, loc, nil, logger)
			seeder := sandbox.NewSeeder(sc, sandbox.Targets{
				Patients:  svc.identity,
				Inventory: svc.inventory,
				Charges:   svc.billing,
				Queue:     svc.queue,
			}, logger)

			// Charges are doctor-only; the seeder acts as a synthetic doctor.
			ctx = auth.WithPrincipal(ctx, auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor})
			res, err := seeder.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d patient(s), %d drug model(s), %d batch(es); %d queued on %s\n",
				res.Patients, res.DrugModels, res.Batches, res.QueueEntries, res.QueueID)
			return nil
		},
	}
	cmd.Flags().IntVar(&sc.Patients, "patients", defaults.Patients, "Patients to create")
	cmd.Flags().IntVar(&sc.DrugModels, "drugs", defaults.DrugModels, "Drug models to stock")
	cmd.Flags().IntVar(&sc.BatchesPerDrug, "batches", defaults.BatchesPerDrug, "Batches received per drug model")
	cmd.Flags().IntVar(&sc.QueueEntries, "queue", defaults.QueueEntries, "Patients to put on the open queue")
	cmd.Flags().Int64Var(&sc.Seed, "seed", 0, "Random seed (0 uses the clock)")
	return cmd
}
