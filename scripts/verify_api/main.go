package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/client"
	"github.com/mahaj/devchat/pkg/logging"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/views"
)

var rootCmd = &cobra.Command{
	Use:   "verify_api",
	Short: "Smoke test a running DevChat deployment",
	RunE:  runVerify,
}

var (
	flagAPI     string
	flagGateway string
	flagTimeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPI, "api", "http://localhost:8081", "API service base URL")
	rootCmd.PersistentFlags().StringVar(&flagGateway, "gateway", "ws://localhost:8080/ws", "gateway websocket URL")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "overall deadline")
}

// account registers a throwaway user and opens its realtime connection.
func account(ctx context.Context, name string) (*client.API, *client.Conn, model.User, error) {
	api := client.NewAPI(flagAPI)
	suffix := uuid.NewString()[:8]
	var conn *client.Conn
	form := &views.RegisterForm{
		Auth: api,
		Connect: func(ctx context.Context, _ model.User) (views.Database, error) {
			c, err := client.Dial(ctx, flagGateway, api.Token())
			conn = c
			return c, err
		},
		Username:             name + "-" + suffix,
		Email:                name + "-" + suffix + "@example.com",
		Password:             "verify-" + suffix,
		PasswordConfirmation: "verify-" + suffix,
	}
	u, err := form.Submit(ctx)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, nil, model.User{}, fmt.Errorf("register %s: %w", name, err)
	}
	return api, conn, *u, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup("info", ""); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()

	annAPI, annConn, ann, err := account(ctx, "ann")
	if err != nil {
		return err
	}
	defer annConn.Close()
	boAPI, boConn, bo, err := account(ctx, "bo")
	if err != nil {
		return err
	}
	defer boConn.Close()
	log.Info().Str("ann", ann.UID).Str("bo", bo.UID).Msg("registered")

	if _, err := annAPI.Me(ctx); err != nil {
		return fmt.Errorf("me: %w", err)
	}

	dm := model.Channel{ID: model.DirectChannelID(ann.UID, bo.UID), Name: bo.DisplayName}
	form := &views.MessageForm{DB: annConn, Storage: annAPI, User: ann, Channel: dm, Private: true}
	if err := form.SetDraft(ctx, "hello from verify_api"); err != nil {
		return err
	}
	if err := form.Send(ctx); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	log.Info().Str("channel", dm.ID).Msg("sent direct message")

	// persistence is asynchronous behind the bus
	deadline := time.NewTicker(250 * time.Millisecond)
	defer deadline.Stop()
	for {
		history, err := boAPI.History(ctx, dm.ID, true, 10)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		if len(history) > 0 {
			log.Info().Int("messages", len(history)).Str("last", history[len(history)-1].Content).Msg("history ok")
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("message never reached history: %w", ctx.Err())
		case <-deadline.C:
		}
	}

	convs, err := boAPI.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("conversations: %w", err)
	}
	for _, c := range convs {
		if c.OtherUserID == ann.UID {
			log.Info().Int64("unread", c.UnreadCount).Msg("conversation ok")
			if err := boAPI.MarkRead(ctx, ann.UID); err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
			log.Info().Msg("all checks passed")
			return nil
		}
	}
	return fmt.Errorf("bo has no conversation with ann")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}
}
