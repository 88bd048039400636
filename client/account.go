package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/client"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/views"
)

var flagUsername string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		api := client.NewAPI(flagAPI)
		var conn *client.Conn
		form := &views.RegisterForm{
			Auth:  api,
			Shell: views.NewShell(views.NewStore()),
			Connect: func(ctx context.Context, _ model.User) (views.Database, error) {
				c, err := client.Dial(ctx, flagGateway, api.Token())
				conn = c
				return c, err
			},
			Username:             flagUsername,
			Email:                flagEmail,
			Password:             flagPassword,
			PasswordConfirmation: flagPassword,
		}
		u, err := form.Submit(ctx)
		if conn != nil {
			defer conn.Close()
		}
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", u.DisplayName, u.UID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and print the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.NewAPI(flagAPI)
		form := &views.LoginForm{Auth: api, Email: flagEmail, Password: flagPassword}
		u, err := form.Submit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n%s\n", u.DisplayName, u.UID, api.Token())
		return nil
	},
}

var avatarCmd = &cobra.Command{
	Use:   "avatar <image>",
	Short: "Crop an image and make it your avatar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := signIn(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		panel := &views.UserPanel{DB: s.conn, Auth: s.api, Storage: s.api, Shell: s.shell, User: s.user}
		if _, err := panel.LoadImage(f); err != nil {
			return err
		}
		url, err := panel.UploadAvatar(ctx)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

var (
	flagCreate  string
	flagDetails string
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels, or create one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := signIn(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		panel := &views.ChannelsPanel{DB: s.conn, Store: s.shell.Store, User: s.user}
		if flagCreate != "" {
			id, err := panel.AddChannel(ctx, flagCreate, flagDetails)
			if err != nil {
				return err
			}
			fmt.Printf("created #%s (%s)\n", flagCreate, id)
			return nil
		}
		if err := panel.Mount(); err != nil {
			return err
		}
		defer panel.Unmount()

		starred := &views.StarredPanel{DB: s.conn, Store: s.shell.Store, User: s.user}
		if err := starred.Mount(); err != nil {
			return err
		}
		defer starred.Unmount()
		settle()
		isStarred := make(map[string]bool)
		for _, ch := range starred.Channels() {
			isStarred[ch.ID] = true
		}

		for _, ch := range panel.Channels() {
			mark := " "
			if isStarred[ch.ID] {
				mark = "*"
			}
			fmt.Printf("%s %-20s %s  (by %s)\n", mark, model.DisplayName(&ch, false), ch.Details, ch.CreatedBy.Name)
		}

		dms := &views.DirectMessages{DB: s.conn, Store: s.shell.Store, User: s.user}
		if err := dms.Mount(ctx); err != nil {
			return err
		}
		defer dms.Unmount()
		settle()
		for _, u := range dms.Users() {
			status := "offline"
			if u.Online {
				status = "online"
			}
			fmt.Printf("  @%-19s %s  %s\n", u.Name, u.UID, status)
		}
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&flagUsername, "username", "", "display name")
	channelsCmd.Flags().StringVar(&flagCreate, "create", "", "name of a channel to create")
	channelsCmd.Flags().StringVar(&flagDetails, "details", "", "description of the new channel")
}
