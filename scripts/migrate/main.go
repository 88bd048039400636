package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/config"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the DevChat keyspace and tables",
	RunE:  runMigrate,
}

var (
	flagHosts    []string
	flagKeyspace string
)

func init() {
	cfg := config.Default()
	rootCmd.PersistentFlags().StringSliceVar(&flagHosts, "hosts", cfg.Scylla.Hosts, "ScyllaDB contact points")
	rootCmd.PersistentFlags().StringVar(&flagKeyspace, "keyspace", cfg.Scylla.Keyspace, "keyspace to create")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup("info", ""); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := db.CreateKeyspace(flagHosts, flagKeyspace); err != nil {
		return err
	}
	session, err := db.NewSession(flagHosts, flagKeyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("keyspace", flagKeyspace).Msg("schema is up to date")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}
