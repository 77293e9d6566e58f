package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	wsapi "github.com/satriahrh/cocoa-fruit/primeworks/adapters/websocket"
	"github.com/satriahrh/cocoa-fruit/primeworks/config"
	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

var (
	watchURL   string
	watchToken string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchURL, "url", "u", "ws://localhost:8080/ws", "WebSocket endpoint")
	watchCmd.Flags().StringVarP(&watchToken, "token", "t", "", "Bearer token (default: request one with API_KEY/API_SECRET)")
}

var watchCmd = &cobra.Command{
	Use:   "watch [job ids...]",
	Short: "Follow job events over WebSocket",
	Long: `Connects to a running server and prints job events. With job ids only
those jobs are followed, otherwise every job.

Lines typed on stdin are sent to the server:
  generate <bound> [chunk_size]
  cancel <job id>
  watch <job id>
  exit`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := watchToken
	if token == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err = fetchToken(ctx, watchURL, cfg.APIKey, cfg.APISecret)
		if err != nil {
			return err
		}
	}

	u, err := url.Parse(watchURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", watchURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	if len(args) > 0 {
		q.Set("jobs", strings.Join(args, ","))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", watchURL, err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	received := make(chan error, 1)
	go func() { received <- printEvents(conn, out) }()

	sent := make(chan error, 1)
	go func() {
		// Closed stdin keeps watching; only "exit" or a failed write ends the session.
		if quit, err := sendCommands(cmd.InOrStdin(), conn, cmd.ErrOrStderr()); quit || err != nil {
			sent <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-received:
		return err
	case err := <-sent:
		if err != nil {
			return err
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}

// fetchToken exchanges API credentials for a token at the server that
// serves wsURL.
func fetchToken(ctx context.Context, wsURL, apiKey, apiSecret string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", wsURL, err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/v1/auth/token"
	u.RawQuery = ""

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-API-Secret", apiSecret)

	client := &nethttp.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return "", errors.New("token not found in auth response")
	}
	return body.Token, nil
}

func printEvents(conn *websocket.Conn, out io.Writer) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, formatMessage(message))
	}
}

func formatMessage(message []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		return string(message)
	}

	switch head.Type {
	case "job":
		var reply wsapi.JobReply
		if json.Unmarshal(message, &reply) != nil {
			break
		}
		j := reply.Job
		line := fmt.Sprintf("job %s: %s bound=%d", j.ID, j.Status, j.Bound)
		if j.Status == domain.JobCompleted {
			line += fmt.Sprintf(" count=%d digest=%s", j.Count, j.Digest)
		}
		if j.Error != "" {
			line += " error=" + j.Error
		}
		return line
	case "error":
		var e wsapi.ErrorResponse
		if json.Unmarshal(message, &e) != nil {
			break
		}
		return fmt.Sprintf("error %s: %s", e.Code, e.Message)
	default:
		var ev domain.JobEvent
		if json.Unmarshal(message, &ev) != nil || ev.JobID == "" {
			break
		}
		switch ev.Type {
		case domain.EventProgress:
			if ev.Progress != nil {
				return fmt.Sprintf("%s %s: chunk %d cursor %d/%d", ev.JobID, ev.Type, ev.Progress.Chunk, ev.Progress.Cursor, ev.Bound)
			}
		case domain.EventCompleted:
			return fmt.Sprintf("%s %s: count=%d digest=%s", ev.JobID, ev.Type, ev.Count, ev.Digest)
		case domain.EventCancelled, domain.EventFailed:
			return fmt.Sprintf("%s %s: %s", ev.JobID, ev.Type, ev.Error)
		}
		return fmt.Sprintf("%s %s: bound=%d", ev.JobID, ev.Type, ev.Bound)
	}
	return string(message)
}

// sendCommands forwards stdin lines until EOF or "exit". quit reports the
// latter.
func sendCommands(in io.Reader, conn *websocket.Conn, errOut io.Writer) (quit bool, err error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return true, nil
		}
		msg, err := parseCommand(line)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return false, fmt.Errorf("failed to send: %w", err)
		}
	}
	return false, scanner.Err()
}

func parseCommand(line string) (wsapi.Inbound, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "generate":
		if len(fields) < 2 || len(fields) > 3 {
			return wsapi.Inbound{}, errors.New("usage: generate <bound> [chunk_size]")
		}
		msg := wsapi.Inbound{Type: "generate"}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return wsapi.Inbound{}, fmt.Errorf("bound must be an integer: %q", fields[1])
		}
		msg.Bound = json.Number(fields[1])
		if len(fields) == 3 {
			if _, err := strconv.Atoi(fields[2]); err != nil {
				return wsapi.Inbound{}, fmt.Errorf("chunk_size must be an integer: %q", fields[2])
			}
			msg.ChunkSize = json.Number(fields[2])
		}
		return msg, nil
	case "cancel", "watch":
		if len(fields) != 2 {
			return wsapi.Inbound{}, fmt.Errorf("usage: %s <job id>", fields[0])
		}
		return wsapi.Inbound{Type: fields[0], JobID: fields[1]}, nil
	}
	return wsapi.Inbound{}, fmt.Errorf("unknown command %q", fields[0])
}
