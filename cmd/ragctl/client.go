package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"infosec-rag/internal/app"
	mysqlClient "infosec-rag/internal/platform/mysql"
	"infosec-rag/internal/repository"
)

var clientSecret string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage API clients",
}

var clientCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Register an API client and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientCreate,
}

func init() {
	clientCreateCmd.Flags().StringVar(&clientSecret, "secret", "", "client secret (generated when empty)")
	clientCmd.AddCommand(clientCreateCmd)
	rootCmd.AddCommand(clientCmd)
}

func runClientCreate(cmd *cobra.Command, args []string) error {
	if !cfg.MySQL.Enabled {
		return fmt.Errorf("client credentials need mysql.enabled = true")
	}
	db, err := mysqlClient.New(cmd.Context(), cfg.MySQLDSN())
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	secret := clientSecret
	if secret == "" {
		secret = uuid.NewString()
	}
	auth := app.NewAuthService(repository.NewAPIClientRepository(db), cfg.Auth.JWTSecret, 0)
	client, err := auth.CreateClient(args[0], secret)
	if err != nil {
		return fmt.Errorf("create client failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "client %q created (id %d)\nsecret: %s\n", client.Name, client.ID, secret)
	fmt.Fprintln(cmd.OutOrStdout(), "the secret is not stored in clear text; keep it now")
	return nil
}
