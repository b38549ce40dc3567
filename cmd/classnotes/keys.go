package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/config"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/logging"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withKeyDirectory opens the hosted store database directly; key management never goes over HTTP.
func withKeyDirectory(run func(service *users.Service) error) error {
	adminConfig, err := config.LoadAdmin(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewConsoleLogger(adminConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, store, err := openStoreDatabase(adminConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	service, err := users.NewService(users.ServiceConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	return run(service)
}

func newKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage access keys in the hosted store database",
	}

	var (
		role string
		name string
		key  string
	)
	addCmd := &cobra.Command{
		Use:   "add <class|administration>",
		Short: "Issue a new access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyDirectory(func(service *users.Service) error {
				entry, err := service.Issue(cmd.Context(), users.IssueRequest{
					Directory: args[0],
					Role:      classroom.Role(role),
					Name:      name,
					Key:       key,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", entry.Key, entry.Role(), entry.Fingerprint)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&role, "role", string(classroom.RoleStudent), "Role granted by the key")
	addCmd.Flags().StringVar(&name, "name", "", "Display name of the key holder")
	addCmd.Flags().StringVar(&key, "key", "", "Use this key instead of a generated one")

	var showKeys bool
	listCmd := &cobra.Command{
		Use:   "list <class|administration>",
		Short: "List the keys of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyDirectory(func(service *users.Service) error {
				entries, err := service.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "FINGERPRINT\tROLE\tNAME\tACTIVE")
				for _, entry := range entries {
					identifier := entry.Fingerprint
					if showKeys {
						identifier = entry.Key
					}
					fmt.Fprintf(writer, "%s\t%s\t%s\t%t\n", identifier, entry.Role(), entry.Name, entry.Active)
				}
				return writer.Flush()
			})
		},
	}
	listCmd.Flags().BoolVar(&showKeys, "show-keys", false, "Print plaintext keys instead of fingerprints")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <class|administration> <key>",
		Short: "Block a key without deleting it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyDirectory(func(service *users.Service) error {
				if err := service.Deactivate(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deactivated")
				return nil
			})
		},
	}

	keysCmd.AddCommand(addCmd, listCmd, deactivateCmd)
	return keysCmd
}
