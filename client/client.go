package main

import (
	"bufio"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/fasthttp/websocket"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables, flags win.
type Config struct {
	ServerAddress string `env:"CHAT_SERVER_ADDR,default=localhost:3001"`
	UserID        string `env:"CHAT_USER_ID"`
	LogLevel      string `env:"LOG_LEVEL,default=WARN"`
}

type frame struct {
	Event event.Name      `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Environment then flags
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	pflag.StringVarP(&config.ServerAddress, "addr", "a", config.ServerAddress, "relay host:port")
	pflag.StringVarP(&config.UserID, "user", "u", config.UserID, "identity to register")
	pflag.Parse()
	if config.UserID == "" {
		return exitConfig, fmt.Errorf("an identity is required (--user or CHAT_USER_ID)")
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect and register
	u := url.URL{Scheme: "ws", Host: config.ServerAddress, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", u.String(), err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()
	if err := conn.WriteJSON(map[string]any{"event": event.Register, "data": config.UserID}); err != nil {
		return exitRuntime, fmt.Errorf("register: %w", err)
	}

	// 3. Reader prints whatever the relay pushes
	readErr := make(chan error, 1)
	go func() { readErr <- receive(conn, config.UserID, os.Stdout) }()

	// 4. Stdin drives the commands
	lines := make(chan string)
	go scan(os.Stdin, lines)
	printHelp(os.Stdout)

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			out, err := command(line)
			if err != nil {
				color.Red.Println(err.Error())
				continue
			}
			if out == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(out); err != nil {
				return exitRuntime, fmt.Errorf("write: %w", err)
			}
		}
	}
}

// command turns one input line into an envelope, nil when nothing is sent.
func command(line string) (map[string]any, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, nil
	case line == "/users":
		return map[string]any{"event": event.GetAllUsers}, nil
	case line == "/online":
		return map[string]any{"event": event.GetOnlineUsers}, nil
	case strings.HasPrefix(line, "@"):
		to, body, found := strings.Cut(line[1:], " ")
		if !found || strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("usage: @user message")
		}
		return map[string]any{"event": event.SendMessage, "data": map[string]string{"to": to, "message": body}}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", line)
	}
}

func receive(conn *websocket.Conn, self string, w io.Writer) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		render(w, self, f)
	}
}

func render(w io.Writer, self string, f frame) {
	switch f.Event {
	case event.Registered:
		fmt.Fprint(w, color.Green.Sprintf(">>> Registered as %s\n", self))
	case event.Message:
		var m domain.Message
		if json.Unmarshal(f.Data, &m) == nil {
			fmt.Fprint(w, color.Cyan.Sprintf("[%s] %s: ", m.CreatedAt.Local().Format(time.TimeOnly), m.From))
			fmt.Fprintln(w, m.Body)
		}
	case event.MessageAck:
		var r domain.SendResult
		if json.Unmarshal(f.Data, &r) == nil {
			fmt.Fprint(w, color.Gray.Sprintf("    sent %s\n", r.MessageID))
		}
	case event.AllUsers, event.OnlineUsers:
		var records []domain.PresenceRecord
		if json.Unmarshal(f.Data, &records) == nil {
			presenceTable(w, records)
		}
	case event.UserJoined, event.UserLeft, event.UserStatusUpdate:
		var r domain.PresenceRecord
		if json.Unmarshal(f.Data, &r) == nil {
			fmt.Fprint(w, color.Yellow.Sprintf("*** %s is %s\n", r.UserID, r.Status))
		}
	case event.UserTyping:
		var p event.TypingPayload
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Fprint(w, color.Gray.Sprintf("    %s is typing...\n", p.UserID))
		}
	case event.RegistrationError, event.MessageError:
		var p event.ErrorPayload
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Fprint(w, color.Red.Sprintf("!!! %s\n", p.Error))
		}
	default:
		slog.Debug("Unhandled event", "event", f.Event)
	}
}

func presenceTable(w io.Writer, records []domain.PresenceRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Status", "Last seen"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, r := range records {
		table.Append([]string{r.UserID, string(r.Status), r.LastSeen.Local().Format(time.DateTime)})
	}
	table.Render()
}

func scan(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, color.Bold.Sprint("Commands: @user message | /users | /online | Ctrl+C to quit"))
}
