// PolyAgents terminal client: an interactive shell that starts streaming
// conversations and renders the real-time events as they arrive.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/polyagents/polyagents/pkg/events"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveAPIKey picks the key to authenticate with: the -key flag wins,
// then API_KEY, then the first entry of DEFAULT_API_KEYS (the same JSON
// list the server provisions at boot).
func resolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	raw := strings.TrimSpace(os.Getenv("DEFAULT_API_KEYS"))
	if raw == "" {
		return ""
	}
	var keys []struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		fmt.Println("Warning: could not parse DEFAULT_API_KEYS, continuing without it")
		return ""
	}
	for _, k := range keys {
		if k.Key != "" {
			return k.Key
		}
	}
	return ""
}

type client struct {
	addr   string
	apiKey string
	http   *http.Client
}

func main() {
	envPath := getEnv("ENV_FILE", ".env")
	_ = godotenv.Load(envPath)

	addr := flag.String("addr", getEnv("API_ADDR", "localhost:8080"), "Server host:port")
	key := flag.String("key", getEnv("API_KEY", ""), "API key (falls back to DEFAULT_API_KEYS)")
	flag.Parse()

	c := &client{
		addr:   *addr,
		apiKey: resolveAPIKey(*key),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
	if c.apiKey == "" {
		fmt.Println("No API key configured, connecting unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("PolyAgents Terminal Client")
	fmt.Println("--------------------------")
	fmt.Println("Type your message and press Enter. Type 'exit' or 'quit' to end.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() || ctx.Err() != nil {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if low := strings.ToLower(prompt); low == "exit" || low == "quit" {
			break
		}

		if err := c.runConversation(ctx, prompt); err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("\nSYSTEM: %v\n", err)
		}
	}

	fmt.Println("\nClient shutting down. Goodbye!")
}

// runConversation opens the event socket first, then triggers the run, so
// no event can be published before the subscription exists.
func (c *client) runConversation(ctx context.Context, prompt string) error {
	conversationID := uuid.NewString()
	fmt.Printf("SYSTEM: Starting new conversation (ID: %s)\n", conversationID)

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, "ws://"+c.addr+"/ws/"+conversationID, &websocket.DialOptions{
		HTTPHeader: header,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connecting event socket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	if err := c.startStream(ctx, conversationID, prompt); err != nil {
		return err
	}

	fmt.Println("SYSTEM: Waiting for responses...")
	return c.listen(ctx, conn)
}

// startStream fires the POST that launches the conversation run.
func (c *client) startStream(ctx context.Context, conversationID, prompt string) error {
	body, err := json.Marshal(map[string]string{"message": prompt})
	if err != nil {
		return err
	}

	url := "http://" + c.addr + "/stream/" + conversationID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("starting conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("starting conversation: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// listen renders events until the conversation reaches a terminal state
// or the connection drops.
func (c *client) listen(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection closed: %w", err)
		}

		// Keep-alive frames are bare text, not JSON.
		if string(data) == "ping" || string(data) == "pong" {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			fmt.Printf("SYSTEM: Unreadable event: %v\n", err)
			continue
		}

		done, err := renderEvent(head.Type, data)
		if err != nil {
			fmt.Printf("SYSTEM: Unreadable %s event: %v\n", head.Type, err)
			continue
		}
		if done {
			return nil
		}
	}
}

// renderEvent prints one event. It reports done for the two terminal
// event types.
func renderEvent(eventType string, data []byte) (done bool, err error) {
	switch eventType {
	case events.EventTypeConversationStarted:
		var p events.ConversationStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("SYSTEM: Conversation started (%d turns)\n", p.TotalTurns)

	case events.EventTypeMessage:
		var p events.MessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		// The user message is an echo of what was just typed.
		if p.Message.Sender != "user" {
			fmt.Printf("\n%s:\n%s\n", strings.ToUpper(p.Message.Sender), p.Message.Content)
		}

	case events.EventTypeAgentResponse:
		var p events.MessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("\nAgent (%s):\n%s\n", p.Message.Sender, p.Message.Content)

	case events.EventTypeTurnStarted:
		var p events.TurnStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("\n--- Turn %d (%d agents) ---\n", p.Turn, p.AgentCount)

	case events.EventTypeAgentThinking:
		var p events.AgentThinkingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("SYSTEM: %s is thinking...\n", p.AgentID)

	case events.EventTypeAgentError:
		var p events.AgentErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("SYSTEM: %s failed on turn %d: %s\n", p.AgentID, p.Turn, p.Error)

	case events.EventTypeTurnCompleted:
		var p events.TurnCompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("--- Turn %d complete (%d responses) ---\n", p.Turn, p.ResponsesReceived)

	case events.EventTypeConsensusStarted:
		fmt.Println("\n--- Consensus Phase ---")

	case events.EventTypeConsensusReached:
		var p events.ConsensusReachedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		line := "SYSTEM: Consensus reached via " + p.Consensus.Method
		if p.Consensus.TotalVotes > 0 {
			line += fmt.Sprintf(" (%d/%d votes)", p.Consensus.WinningVotes, p.Consensus.TotalVotes)
		}
		if p.Consensus.Confidence != nil {
			line += fmt.Sprintf(", confidence %.2f", *p.Consensus.Confidence)
		}
		fmt.Println(line)

	case events.EventTypeConversationCompleted:
		var p events.ConversationCompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Println("\n==========================")
		fmt.Println("Final Consensus Answer:")
		fmt.Println("==========================")
		fmt.Println(p.FinalAnswer)
		fmt.Println("==========================")
		fmt.Println("SYSTEM: Conversation finished. You can start a new one.")
		return true, nil

	case events.EventTypeError:
		var p events.ErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		fmt.Printf("\nSYSTEM: Conversation failed: %s\n", p.Message)
		return true, nil

	default:
		fmt.Printf("SYSTEM: Received event %q\n", eventType)
	}
	return false, nil
}
