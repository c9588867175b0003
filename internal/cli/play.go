package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/blocq/blocq-server/internal/protocol"
)

func newPlayCmd() *cobra.Command {
	var (
		name       string
		autoReady  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join the matchmaking queue and stream game events",
		Long: `Connect to the server over WebSocket, join the matchmaking queue,
and stream session events in real-time.

Events include:
  - WAITING: queued for an opponent
  - GAME_MATCHED: paired into a game session
  - PLAYER_READY: a player signalled readiness
  - GAME_START: all players ready, gameplay begins
  - NEXT_PIECE / ATTACK / OPPONENT_BOARD_UPDATE: gameplay relays
  - OPPONENT_GAME_OVER / OPPONENT_LEFT / OPPONENT_DISCONNECTED / GAME_WON:
    session outcomes

Press Ctrl+C to leave and disconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(name, autoReady, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().BoolVar(&autoReady, "ready", true, "Signal ready automatically when matched")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

// wsEvent is one received frame with its arrival time
type wsEvent struct {
	Time time.Time       `json:"time"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func play(name string, autoReady, jsonOutput bool) error {
	url := client.WebSocketURL()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(protocol.NewJoinGame(name)); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Connected to %s\n", url)
	}

	// Reader goroutine feeds frames to the main loop
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- raw
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Leave cleanly before disconnecting
			_ = conn.WriteJSON(protocol.NewLeaveGame())
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if !jsonOutput {
				fmt.Println("\nDisconnected")
			}
			return nil
		case raw, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("stream error: %w", err)
				default:
					return nil
				}
			}

			msgType, err := protocol.MessageType(raw)
			if err != nil {
				continue
			}

			printFrame(msgType, raw, jsonOutput)

			if msgType == protocol.TypeGameMatched && autoReady {
				if err := conn.WriteJSON(protocol.NewReady()); err != nil {
					return fmt.Errorf("ready failed: %w", err)
				}
			}
		}
	}
}

func printFrame(msgType string, raw []byte, jsonOutput bool) {
	now := time.Now()

	if jsonOutput {
		evt := wsEvent{Time: now, Type: msgType, Data: raw}
		data, _ := json.Marshal(evt)
		fmt.Println(string(data))
		return
	}

	timestamp := now.Format("2006-01-02 15:04:05")
	display := string(raw)
	if len(display) > 100 {
		display = display[:100] + "..."
	}
	display = strings.ReplaceAll(display, "\n", " ")
	fmt.Printf("[%s] %s: %s\n", timestamp, msgType, display)
}
