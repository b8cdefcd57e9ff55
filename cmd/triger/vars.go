package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"triger/internal/app"
	"triger/internal/config"
	"triger/internal/domain"
	"triger/internal/store"
)

// openStore opens the settings store named by the config file.
func openStore() (*store.SQLiteStore, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

func varsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "View and modify bot settings (OWNER, SUDO, PREFIX, ...)",
		Long:  "Bot settings live in the settings store and are read on every message, so changes apply without a restart.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			values, err := st.Get(cmd.Context())
			if err != nil {
				return err
			}
			key := store.NormalizeKey(args[0])
			v, ok := values[key]
			if !ok {
				return fmt.Errorf("%s not set", key)
			}
			fmt.Println(v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a setting (e.g. vars set PREFIX '!,.')",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			key := store.NormalizeKey(args[0])
			if err := st.Set(cmd.Context(), key, args[1]); err != nil {
				return err
			}
			recordCLIChange(cmd.Context(), st, "var_set", key)
			logger.Info("setting updated", "key", key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset [key]",
		Short: "Delete a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			key := store.NormalizeKey(args[0])
			if err := st.Delete(cmd.Context(), key); err != nil {
				return err
			}
			recordCLIChange(cmd.Context(), st, "var_deleted", key)
			logger.Info("setting deleted", "key", key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			values, err := st.Get(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, values[k])
			}
			return nil
		},
	})

	return cmd
}

func recordCLIChange(ctx context.Context, st *store.SQLiteStore, action, key string) {
	if err := st.LogAudit(ctx, domain.AuditEntry{
		Action:   action,
		Command:  key,
		Identity: "cli",
		Result:   "updated",
	}); err != nil {
		logger.Warn("audit write failed", "action", action, "err", err)
	}
}

func commandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the registered commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c, err := app.New(cfg, logger, buildInfo())
			if err != nil {
				return err
			}
			defer c.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPATTERN\tPERMISSION\tSCOPE\tDESCRIPTION")
			for _, d := range c.Registry().List() {
				scope := string(d.Scope)
				if scope == "" {
					scope = "any"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Pattern, d.Permission, scope, d.Description)
			}
			return tw.Flush()
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tCOMMAND\tIDENTITY\tCHAT\tRESULT\tDETAILS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt, e.Action, e.Command, e.Identity, e.ChatID, e.Result, e.Details)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
