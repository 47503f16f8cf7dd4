package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			e.logger.Info("schema applied", "driver", e.cfg.DatabaseDriver)
			return nil
		},
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func createAdminCmd() *cobra.Command {
	var username, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote and reset an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}

			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			app, err := e.app()
			if err != nil {
				return err
			}
			u, err := app.Members.EnsureAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s) ready\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "admin username")
	cmd.Flags().StringVar(&email, "email", "admin@boipoka.com", "admin email")
	return cmd
}

func syncCatalogCmd() *cobra.Command {
	var start, size int
	cmd := &cobra.Command{
		Use:   "sync-catalog",
		Short: "Import one page of books from the catalog API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			app, err := e.app()
			if err != nil {
				return err
			}
			res, err := app.Syncer().Sync(cmd.Context(), start, size)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "start index in the remote catalog")
	cmd.Flags().IntVar(&size, "size", 40, "volumes to request")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the ledger invariants and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			app, err := e.app()
			if err != nil {
				return err
			}
			report := app.Checker.Check(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Healthy() {
				return fmt.Errorf("%d invariant violation(s)", len(report.Violations))
			}
			return nil
		},
	}
}

func flushMailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-mail",
		Short: "Deliver every due message in the outbox once",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			app, err := e.app()
			if err != nil {
				return err
			}
			n, err := app.Dispatcher().Flush(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) sent\n", n)
			return nil
		},
	}
}
