package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/mesh"
	"github.com/dkeye/Huddle/internal/transfer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagCreate   bool
	flagPassword string
	flagSend     string
)

const linkWait = 30 * time.Second

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Create or join a room and stay in it",
	Long: `Join a room, or create it with --create. Lines typed on stdin are sent as
chat messages. Commands:

  /video on|off   toggle the local video track
  /audio on|off   toggle the local audio track
  /send <path>    send a file to everyone in the room
  /leave          leave the room and exit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runJoin(ctx, cmd.OutOrStdout(), cmd.InOrStdin(), domain.RoomName(args[0]))
	},
}

func init() {
	f := joinCmd.Flags()
	f.BoolVar(&flagCreate, "create", false, "create the room (replaces the password if it exists)")
	f.StringVarP(&flagPassword, "password", "p", "", "room password")
	f.StringVar(&flagSend, "send", "", "file to send once a peer is connected")
	f.String("out", "", "directory for received files")
	f.Bool("video", true, "publish a video track")
	f.Bool("audio", true, "publish an audio track")

	_ = v.BindPFlag("out_dir", f.Lookup("out"))
	_ = v.BindPFlag("video", f.Lookup("video"))
	_ = v.BindPFlag("audio", f.Lookup("audio"))
}

func runJoin(ctx context.Context, out io.Writer, in io.Reader, room domain.RoomName) error {
	opts, err := client.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	s, err := client.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()
	go printEvents(out, s, cfg.OutDir)

	if flagCreate {
		err = s.CreateRoom(ctx, room, flagPassword)
	} else {
		err = s.JoinRoom(ctx, room, flagPassword)
	}
	switch {
	case errors.Is(err, domain.ErrIncorrectPassword), errors.Is(err, domain.ErrPasswordRequired):
		return fmt.Errorf("%w, try again with --password", err)
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "joined %s as %s (%s)\n", room, s.Username(), s.Self())

	if flagSend != "" {
		go func() {
			if err := sendWhenConnected(ctx, s, flagSend); err != nil {
				fmt.Fprintln(out, "send failed:", err)
			}
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return s.LeaveRoom()
			}
			done, err := handleLine(ctx, out, s, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if done {
				return nil
			}
		case err := <-runErr:
			return err
		case <-ctx.Done():
			_ = s.LeaveRoom()
			return nil
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, s *client.Session, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.SendChat(line)
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "video", "audio":
		kind, _ := domain.ParseMediaKind(cmd)
		switch arg {
		case "on":
			return false, s.SetMedia(kind, true)
		case "off":
			return false, s.SetMedia(kind, false)
		}
		return false, fmt.Errorf("usage: /%s on|off", cmd)
	case "send":
		if arg == "" {
			return false, errors.New("usage: /send <path>")
		}
		go func() {
			if err := s.SendFile(ctx, arg, nil); err != nil {
				fmt.Fprintln(out, "send failed:", err)
				return
			}
			fmt.Fprintf(out, "sent %s\n", filepath.Base(arg))
		}()
		return false, nil
	case "leave", "quit":
		return true, s.LeaveRoom()
	}
	return false, fmt.Errorf("unknown command /%s", cmd)
}

// sendWhenConnected waits for the first peer with an open file channel.
func sendWhenConnected(ctx context.Context, s *client.Session, path string) error {
	ctx, cancel := context.WithTimeout(ctx, linkWait)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		for _, l := range s.Links() {
			if l.Files {
				return s.SendFile(ctx, path, nil)
			}
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return fmt.Errorf("no peer connected: %w", ctx.Err())
		}
	}
}

func printEvents(out io.Writer, s *client.Session, dir string) {
	for ev := range s.Events() {
		switch e := ev.(type) {
		case client.Joined:
			for _, m := range e.Members {
				fmt.Fprintf(out, "* %s is here\n", m.Username)
			}
		case client.UserJoined:
			fmt.Fprintf(out, "* %s joined\n", e.User.Username)
		case client.UserLeft:
			fmt.Fprintf(out, "* %s left\n", e.Username)
		case client.MediaChanged:
			fmt.Fprintf(out, "* %s turned %s %s\n", e.UserID, e.Kind, onOff(e.Enabled))
		case client.ChatReceived:
			ts := time.UnixMilli(e.Message.TS).Format("15:04:05")
			fmt.Fprintf(out, "[%s] %s: %s\n", ts, e.Message.Username, e.Message.Text)
		case client.FileReceived:
			path, err := saveFile(dir, e.File)
			if err != nil {
				fmt.Fprintln(out, "could not save file:", err)
				continue
			}
			fmt.Fprintf(out, "* received %s (%d bytes) -> %s\n", e.File.Name, len(e.File.Data), path)
		case client.TransferFailed:
			fmt.Fprintf(out, "* transfer %s from %s failed: %v\n", e.ID, e.Peer, e.Err)
		case client.LinkChanged:
			if e.State == mesh.LinkConnected || e.State == mesh.LinkClosed {
				log.Info().Str("peer", string(e.Peer)).Str("state", e.State.String()).Msg("peer link")
			}
		case client.ServerError:
			fmt.Fprintln(out, "server error:", e.Message)
		case client.Disconnected:
			if e.Err != nil {
				fmt.Fprintln(out, "disconnected:", e.Err)
			}
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// saveFile writes f under dir without overwriting existing files.
func saveFile(dir string, f transfer.File) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) {
		name = f.ID
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return path, os.WriteFile(path, f.Data, 0o644)
}
