package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shelfwise/internal/app"
	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/membership"
	"shelfwise/internal/seed"
	"shelfwise/internal/store/postgres"
	"shelfwise/internal/validate"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := env()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.DB() == nil {
				log.Info("memory store has no schema")
				return nil
			}
			if err := postgres.Migrate(cmd.Context(), a.DB()); err != nil {
				return err
			}
			log.Info("schema up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter catalogue and staff accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := env()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.SeedFile
			}
			cat, err := seed.Load(file)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			rep, err := seed.New(a.Store, a.Membership, log).Run(cmd.Context(), cat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d users, %d categories, %d authors, %d books\n",
				rep.Users, rep.Categories, rep.Authors, rep.Books)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalogue YAML (default: SEED_FILE or built-in)")
	return cmd
}

func createAdminCmd() *cobra.Command {
	var req membership.RegisterRequest
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := env()
			if err != nil {
				return err
			}
			if req.Password == "" {
				if req.Password, err = readPassword(cmd, "Password: "); err != nil {
					return err
				}
			}
			if err := validate.New().Struct(req); err != nil {
				for field, msg := range apperr.FieldErrors(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", field, msg)
				}
				return err
			}

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			u, err := a.Membership.CreateUser(cmd.Context(), req, domain.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Email, "email", "", "login email")
	f.StringVar(&req.FirstName, "first-name", "Admin", "first name")
	f.StringVar(&req.LastName, "last-name", "User", "last name")
	f.StringVar(&req.Password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass --password")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}
