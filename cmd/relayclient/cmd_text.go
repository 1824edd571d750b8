package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meeting-translation-relay/internal/models"
)

func newTextCommand() *cobra.Command {
	var f connFlags
	cmd := &cobra.Command{
		Use:   "text [message]",
		Short: "Send typed text into a session; reads lines from stdin without an argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			conn, err := dial(ctx, f)
			if err != nil {
				return err
			}
			defer conn.Close()

			done := make(chan struct{})
			go printEvents(conn, done)

			if err := conn.Send(map[string]any{"type": models.CommandInitialize, "sessionId": f.sessionID}); err != nil {
				return fmt.Errorf("send initialize: %w", err)
			}
			// Give the upstream a moment to become ready.
			time.Sleep(time.Second)

			send := func(text string) error {
				return conn.Send(map[string]any{"type": models.CommandTextMessage, "text": text})
			}
			if len(args) == 1 {
				if err := send(args[0]); err != nil {
					return err
				}
			} else {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					line := strings.TrimSpace(sc.Text())
					if line == "" {
						continue
					}
					if err := send(line); err != nil {
						return err
					}
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}

			select {
			case <-time.After(5 * time.Second):
			case <-done:
			}
			return nil
		},
	}
	addConnFlags(cmd, &f)
	return cmd
}
