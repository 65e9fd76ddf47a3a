package main

import (
	"fmt"
	"os"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	v   = config.NewClientViper()
	cfg *config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:   "huddle-client",
	Short: "Headless Huddle room client",
	Long: `huddle-client joins Huddle rooms from a terminal: it lists rooms,
creates or joins one, exchanges chat and sends or receives files with every
other member over direct peer connections.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadClient(v)
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.LogLevel)
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("server", "", "coordinator URL (ws, wss, http or https)")
	f.String("username", "", "display name")
	f.StringSlice("stun", nil, "STUN server URLs")
	f.String("codec", "", "file frame codec: json or msgpack")
	f.String("log-level", "", "log level")

	_ = v.BindPFlag("server", f.Lookup("server"))
	_ = v.BindPFlag("username", f.Lookup("username"))
	_ = v.BindPFlag("stun", f.Lookup("stun"))
	_ = v.BindPFlag("codec", f.Lookup("codec"))
	_ = v.BindPFlag("log_level", f.Lookup("log-level"))

	rootCmd.AddCommand(roomsCmd, joinCmd)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
