package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/protocol"
	goutils "github.com/jkaninda/go-utils"
)

var (
	callURL     string
	callAPIKey  string
	callWS      bool
	callTimeout time.Duration
	callFlags   requestFlags
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run a function on a remote sandrun gateway",
	Long: `Call sends one execution to a running gateway and prints the outcome.
With --ws the run goes over the WebSocket channel, and Ctrl-C cancels it
on the server instead of abandoning it.`,
	RunE: runCall,
}

func init() {
	callFlags.register(callCmd)
	callCmd.Flags().StringVar(&callURL, "url", goutils.Env("SANDRUN_URL", "http://localhost:8080"), "gateway base URL")
	callCmd.Flags().StringVar(&callAPIKey, "api-key", goutils.Env("SANDRUN_API_KEY", ""), "API key sent as a bearer token")
	callCmd.Flags().BoolVar(&callWS, "ws", false, "use the WebSocket channel")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", time.Minute, "client-side timeout")
}

func runCall(cmd *cobra.Command, _ []string) error {
	req, err := callFlags.request(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out domain.Outcome
	if callWS {
		out, err = callWebSocket(ctx, callURL, callAPIKey, req, callTimeout)
	} else {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		out, err = callHTTP(ctx, http.DefaultClient, callURL, callAPIKey, req)
	}
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), out)
}

// callHTTP posts req to /v1/execute. Every outcome arrives as 200; any other
// status is a transport or gateway error.
func callHTTP(ctx context.Context, client *http.Client, baseURL, apiKey string, req executor.Request) (domain.Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("encoding request: %w", err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/v1/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Outcome{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out domain.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Outcome{}, fmt.Errorf("decoding outcome: %w", err)
	}
	return out, nil
}

// callWebSocket runs req over the WebSocket channel. Canceling ctx sends a
// cancel frame and still waits for the server's outcome.
func callWebSocket(ctx context.Context, baseURL, apiKey string, req executor.Request, timeout time.Duration) (domain.Outcome, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return domain.Outcome{}, err
	}

	// The connection outlives ctx so the cancel frame can still be sent.
	connCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	conn, _, err := websocket.Dial(connCtx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer func() { _ = conn.CloseNow() }()

	id := uuid.NewString()
	if err := writeFrame(connCtx, conn, protocol.Run(id, req)); err != nil {
		return domain.Outcome{}, err
	}

	frames := make(chan protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				readErr <- err
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				readErr <- fmt.Errorf("decoding frame: %w", err)
				return
			}
			select {
			case frames <- msg:
			case <-connCtx.Done():
				return
			}
		}
	}()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if err := writeFrame(connCtx, conn, protocol.Cancel(id)); err != nil {
				return domain.Outcome{}, err
			}
		case err := <-readErr:
			return domain.Outcome{}, fmt.Errorf("reading from gateway: %w", err)
		case msg := <-frames:
			if msg.ID != id {
				continue
			}
			switch msg.Type {
			case protocol.MsgOutcome:
				_ = conn.Close(websocket.StatusNormalClosure, "")
				if msg.Outcome == nil {
					return domain.Outcome{}, fmt.Errorf("gateway sent an empty outcome")
				}
				return *msg.Outcome, nil
			case protocol.MsgError:
				return domain.Outcome{}, fmt.Errorf("gateway error: %s", msg.Message)
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", msg.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("sending %s frame: %w", msg.Type, err)
	}
	return nil
}

// websocketURL maps an http(s) gateway URL to its ws(s) run endpoint.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + wsPath
	return u.String(), nil
}
