package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/devchat/pkg/emoji"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/views"
)

const chatHelp = `commands:
  /search <term>   show matching messages (empty term clears)
  /star            star or unstar this channel
  /emoji <code>    append an emoji to the draft, /send sends it
  /send            send the draft
  /image <file>    upload an image into the channel
  /top             top posters in this channel
  /quit            leave`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a channel or direct conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := signIn(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ch, private, err := s.resolveChannel(ctx)
		if err != nil {
			return err
		}
		s.shell.Store.Dispatch(views.SetCurrentChannel{Channel: &ch})
		s.shell.Store.Dispatch(views.SetPrivateChannel{Private: private})

		view := &views.MessagesView{DB: s.conn, Store: s.shell.Store, User: s.user, Channel: ch, Private: private}
		defer view.Unmount()
		if err := view.Mount(ctx); err != nil {
			return err
		}

		form := &views.MessageForm{DB: s.conn, Storage: s.api, User: s.user, Channel: ch, Private: private}
		defer form.Unmount()

		fmt.Printf("%s as %s. /help for commands\n", view.Header(), s.user.DisplayName)

		p := &printer{view: view, self: s.user.UID}
		lines := readLines(os.Stdin)
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.conn.Done():
				return s.conn.Err()
			case <-ticker.C:
				p.flush()
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				quit, err := handleLine(ctx, view, form, line)
				if err != nil {
					fmt.Println("!", err)
				}
				if quit {
					return nil
				}
				p.flush()
			}
		}
	},
}

func handleLine(ctx context.Context, view *views.MessagesView, form *views.MessageForm, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		if err := form.SetDraft(ctx, line); err != nil {
			return false, err
		}
		return false, form.Send(ctx)
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "q":
		return true, nil
	case "help":
		fmt.Println(chatHelp)
	case "search":
		view.Search(arg)
		for _, m := range view.Displayed() {
			printMessage(m)
		}
		fmt.Printf("-- %d of %d messages, %s\n", len(view.Displayed()), len(view.Messages()), view.UniqueUsers())
	case "star":
		if err := view.ToggleStar(ctx); err != nil {
			return false, err
		}
		if view.Starred() {
			fmt.Println("starred", view.Header())
		} else {
			fmt.Println("unstarred", view.Header())
		}
	case "emoji":
		if _, ok := emoji.Lookup(arg); !ok {
			return false, fmt.Errorf("unknown emoji :%s:", strings.Trim(arg, ":"))
		}
		draft := form.AddEmoji(arg)
		fmt.Printf("draft: %s\n", draft)
	case "send":
		return false, form.Send(ctx)
	case "image":
		data, err := os.ReadFile(arg)
		if err != nil {
			return false, err
		}
		if err := form.Upload(ctx, data, http.DetectContentType(data)); err != nil {
			return false, err
		}
		fmt.Printf("uploaded %s (%.0f%%)\n", arg, form.PercentUploaded())
	case "top":
		for i, p := range views.TopPosters(view.Store.State().Channel.UserPosts, 5) {
			fmt.Printf("%d. %s %d\n", i+1, p.Name, p.Count)
		}
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func readLines(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				out <- line
			}
		}
		if err := sc.Err(); err != nil {
			log.Warn().Err(err).Msg("stdin closed")
		}
	}()
	return out
}

// printer writes messages as they arrive and the typing line when it
// changes.
type printer struct {
	view *views.MessagesView
	self string

	mu      sync.Mutex
	printed int
	typing  string
}

func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.view.Messages()
	for _, m := range msgs[min(p.printed, len(msgs)):] {
		printMessage(m)
	}
	p.printed = len(msgs)

	var names []string
	for _, u := range p.view.TypingUsers() {
		names = append(names, u.Name)
	}
	typing := strings.Join(names, ", ")
	if typing != p.typing {
		p.typing = typing
		if typing != "" {
			fmt.Printf("... %s typing\n", typing)
		}
	}
}

func printMessage(m model.Message) {
	at := time.UnixMilli(m.Timestamp).Format("15:04")
	body := m.Content
	if m.Image != "" {
		body = "[image] " + m.Image
	}
	fmt.Printf("[%s] %s: %s\n", at, m.User.Name, body)
}

var flagFile string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload an image into a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(flagFile)
		if err != nil {
			return err
		}

		s, err := signIn(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ch, private, err := s.resolveChannel(ctx)
		if err != nil {
			return err
		}

		form := &views.MessageForm{DB: s.conn, Storage: s.api, User: s.user, Channel: ch, Private: private}
		done := make(chan struct{})
		go func() {
			t := time.NewTicker(200 * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					if form.UploadState() == views.UploadUploading {
						fmt.Printf("\r%3.0f%%", form.PercentUploaded())
					}
				}
			}
		}()
		err = form.Upload(ctx, data, http.DetectContentType(data))
		close(done)
		if err != nil {
			return err
		}
		fmt.Printf("\ruploaded %s to %s\n", flagFile, model.DisplayName(&ch, private))
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&flagFile, "file", "", "image to upload")
	_ = uploadCmd.MarkFlagRequired("file")
}
