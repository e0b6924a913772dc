package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/wirechat/internal/client"
	"github.com/omochice/wirechat/internal/config"
	"github.com/omochice/wirechat/internal/observability"
	"github.com/omochice/wirechat/pkg/protocol"
)

func clientCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a chat relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("addr") {
				cfg.Client.Addr = addr
			}
			if cmd.Flags().Changed("name") {
				cfg.Client.Name = name
			}
			if cfg.Client.Name == "" {
				return errors.New("a name is required (use --name)")
			}

			logger := observability.InitLogger("wirechat-client")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			session, err := client.Dial(ctx, cfg.Client.Addr, cfg.Client.Name, logger)
			cancel()
			if err != nil {
				return err
			}
			defer session.Close()

			logger.Info().Str("addr", cfg.Client.Addr).Str("name", cfg.Client.Name).Msg("connected")

			// Inbound messages print concurrently with the input loop below;
			// neither waits on the other.
			go func() {
				for op := range session.Messages() {
					switch v := op.(type) {
					case protocol.Broadcast:
						fmt.Printf("[%s]: %s\n", v.From, v.Body)
					case protocol.Connect:
						fmt.Printf("*** %s joined ***\n", v.ClientID)
					case protocol.Disconnect:
						fmt.Printf("*** %s left ***\n", v.ClientID)
					}
				}
				switch session.Reason() {
				case client.ReasonServerDisconnect:
					fmt.Println("*** disconnected by server ***")
				case client.ReasonConnectionLost:
					fmt.Println("*** connection lost ***")
				}
			}()

			fmt.Println("Type your messages (or 'quit' to exit):")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if text == "quit" || text == "exit" {
					break
				}
				if err := session.SendText(text); err != nil {
					logger.Warn().Err(err).Msg("send failed")
					if errors.Is(err, client.ErrClosed) {
						break
					}
				}
			}
			if err := scanner.Err(); err != nil {
				logger.Warn().Err(err).Msg("input error")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8080", "Server address")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name announced to the server")
	return cmd
}
