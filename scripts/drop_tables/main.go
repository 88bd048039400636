package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/config"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "drop_tables",
	Short: "Drop every DevChat table (development only)",
	RunE:  runDrop,
}

var (
	flagHosts    []string
	flagKeyspace string
	flagYes      bool
)

func init() {
	cfg := config.Default()
	rootCmd.PersistentFlags().StringSliceVar(&flagHosts, "hosts", cfg.Scylla.Hosts, "ScyllaDB contact points")
	rootCmd.PersistentFlags().StringVar(&flagKeyspace, "keyspace", cfg.Scylla.Keyspace, "keyspace holding the tables")
	rootCmd.Flags().BoolVar(&flagYes, "yes", false, "confirm dropping all data")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup("info", ""); err != nil {
		return err
	}
	if !flagYes {
		return errors.New("refusing to drop tables without --yes")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session, err := db.NewSession(flagHosts, flagKeyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	log.Info().Str("keyspace", flagKeyspace).Msg("dropping tables")
	if err := session.Drop(ctx); err != nil {
		return err
	}
	log.Info().Msg("tables dropped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("drop failed")
	}
}
