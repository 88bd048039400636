package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/client"
	"github.com/mahaj/devchat/pkg/logging"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/views"
)

var rootCmd = &cobra.Command{
	Use:   "devchat",
	Short: "Terminal client for DevChat",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.Setup(flagLogLevel, "")
		return err
	},
}

var (
	flagAPI      string
	flagGateway  string
	flagEmail    string
	flagPassword string
	flagLogLevel string
	flagChannel  string
	flagDM       string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAPI, "api", envOr("DEVCHAT_API", "http://localhost:8081"), "API service base URL")
	flags.StringVar(&flagGateway, "gateway", envOr("DEVCHAT_GATEWAY", "ws://localhost:8080/ws"), "gateway websocket URL")
	flags.StringVar(&flagEmail, "email", os.Getenv("DEVCHAT_EMAIL"), "account email")
	flags.StringVar(&flagPassword, "password", os.Getenv("DEVCHAT_PASSWORD"), "account password")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(registerCmd, loginCmd, chatCmd, uploadCmd, avatarCmd, channelsCmd)
	for _, cmd := range []*cobra.Command{chatCmd, uploadCmd} {
		cmd.Flags().StringVar(&flagChannel, "channel", "", "channel id (default: first channel)")
		cmd.Flags().StringVar(&flagDM, "dm", "", "user id to message directly (overrides --channel)")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("devchat")
	}
}

// session is a signed in user with an open realtime connection.
type session struct {
	api   *client.API
	conn  *client.Conn
	shell *views.Shell
	user  model.User
}

func (s *session) Close() error {
	return s.conn.Close()
}

func signIn(ctx context.Context) (*session, error) {
	api := client.NewAPI(flagAPI)
	shell := views.NewShell(views.NewStore())
	form := &views.LoginForm{Auth: api, Shell: shell, Email: flagEmail, Password: flagPassword}
	u, err := form.Submit(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.Dial(ctx, flagGateway, api.Token())
	if err != nil {
		return nil, err
	}
	return &session{api: api, conn: conn, shell: shell, user: *u}, nil
}

// resolveChannel picks the channel named by --dm or --channel, or the first
// public channel.
func (s *session) resolveChannel(ctx context.Context) (model.Channel, bool, error) {
	if flagDM != "" {
		ch := model.Channel{ID: model.DirectChannelID(s.user.UID, flagDM), Name: flagDM}
		snap, err := s.conn.Once(ctx, model.UserPath(flagDM))
		if err == nil && snap.Exists() {
			var p model.Profile
			if snap.Decode(&p) == nil && p.Name != "" {
				ch.Name = p.Name
			}
		}
		return ch, true, nil
	}

	panel := &views.ChannelsPanel{DB: s.conn, Store: s.shell.Store, User: s.user}
	if err := panel.Mount(); err != nil {
		return model.Channel{}, false, err
	}
	defer panel.Unmount()
	settle()

	for _, ch := range panel.Channels() {
		if flagChannel == "" || ch.ID == flagChannel || strings.EqualFold(ch.Name, flagChannel) {
			return ch, false, nil
		}
	}
	if flagChannel != "" {
		return model.Channel{ID: flagChannel, Name: flagChannel}, false, nil
	}
	return model.Channel{}, false, fmt.Errorf("no channels yet; create one with `devchat channels --create`")
}

// settle lets replayed child_added events drain from the connection's
// dispatch queue into freshly mounted panels.
func settle() {
	time.Sleep(250 * time.Millisecond)
}
