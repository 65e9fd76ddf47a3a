package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, 10*time.Second)
		defer cancelTimeout()

		opts, err := client.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		s, err := client.Dial(ctx, opts)
		if err != nil {
			return err
		}
		defer s.Close()
		go func() { _ = s.Run(ctx) }()

		for {
			select {
			case ev, ok := <-s.Events():
				if !ok {
					return fmt.Errorf("connection closed before the room list arrived")
				}
				if r, ok := ev.(client.RoomsUpdated); ok {
					renderRooms(cmd.OutOrStdout(), r.Rooms)
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
}

func renderRooms(w io.Writer, rooms []protocol.RoomInfo) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No active rooms")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Room", "Members", "Users"})
	for i, r := range rooms {
		names := make([]string, 0, len(r.ActiveUsers))
		for _, u := range r.ActiveUsers {
			names = append(names, u.Username)
		}
		t.AppendRow(table.Row{i + 1, r.Name, len(r.ActiveUsers), strings.Join(names, ", ")})
	}
	t.Render()
}
