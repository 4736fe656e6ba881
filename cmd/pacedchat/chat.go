package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/pacedchat/internal/app"
	"github.com/ent0n29/pacedchat/internal/chat"
	"github.com/ent0n29/pacedchat/internal/protocol"
)

const chatHelp = "Type a message and press enter. /skip stops the current reply, /quit exits."

func newChatCommand() *cobra.Command {
	var backendURL string
	var segments int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the backend in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if backendURL != "" {
				cfg.BackendURL = backendURL
				cfg.BackendMode = "http"
			}
			if segments > 0 {
				cfg.Chunking.MaxSegmentsPerChunk = segments
			}

			sender, err := app.NewSender(cfg)
			if err != nil {
				return err
			}
			log.Debug().Str("backend_mode", app.BackendMode(sender)).Msg("backend sender ready")

			conv := app.ChatFactory(cfg, sender, nil)(uuid.NewString(), cfg.ChatUsername)
			defer conv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runChat(ctx, conv, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&backendURL, "backend-url", "", "Backend chat endpoint (overrides BACKEND_URL)")
	cmd.Flags().IntVar(&segments, "segments", 0, "Sentences per revealed chunk (overrides REVEAL_MAX_SEGMENTS)")
	return cmd
}

func runChat(ctx context.Context, conv *chat.Orchestrator, in io.Reader, out io.Writer) error {
	events, unsubscribe := conv.Subscribe(0)
	defer unsubscribe()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	_, _ = fmt.Fprintln(out, chatHelp)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			conv.Close()
			<-printed
			return nil
		case "/skip":
			if !conv.Skip() {
				_, _ = fmt.Fprintln(out, "(nothing to skip)")
			}
			continue
		}
		if _, err := conv.Submit(line); err != nil {
			if errors.Is(err, chat.ErrClosed) {
				<-printed
				return nil
			}
			_, _ = fmt.Fprintf(out, "error> %v\n", err)
		}
	}

	// End of input: let the last reply finish revealing before closing.
	if err := conv.Wait(ctx); err != nil {
		log.Debug().Err(err).Msg("wait for reply interrupted")
	}
	conv.Close()
	<-printed
	return scanner.Err()
}

func printEvent(out io.Writer, ev any) {
	switch m := ev.(type) {
	case protocol.MessageAppended:
		switch m.Role {
		case "agent":
			_, _ = fmt.Fprintf(out, "assistant> %s\n", m.Content)
		case "error":
			_, _ = fmt.Fprintf(out, "error> %s\n", m.Content)
		}
	case protocol.TypingState:
		if m.Typing {
			_, _ = fmt.Fprintln(out, "(assistant is typing...)")
		} else if m.Reason == "skipped" {
			_, _ = fmt.Fprintln(out, "(reply skipped)")
		}
	}
}
