package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skillbot/internal/app"
	"skillbot/internal/channel"
)

func chatCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			engine, err := app.New(cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{
				Hub:            engine.Hub,
				ConversationID: conversationID,
				Logger:         logger,
				In:             cmd.InOrStdin(),
				Out:            cmd.OutOrStdout(),
				Spinner:        true,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "cli", "conversation id to resume")
	return cmd
}
