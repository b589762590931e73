// Command sessionsocket runs the session relay and its clients.
//
// Commands:
//  1. "serve" – runs the development relay: WebSocket echo per session,
//     server push (/send), session directory and an /mcp HTTP endpoint
//  2. "chat" – line-oriented chat client following one session
//  3. "mcp" – MCP stdio server that lets an agent drive a client store
//
// Settings come from defaults, an optional YAML file (--config), a .env
// file, environment variables and flags, in that order.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/sessionsocket/api"
	"github.com/wricardo/sessionsocket/realtime/config"
	"github.com/wricardo/sessionsocket/realtime/relay"
	"github.com/wricardo/sessionsocket/realtime/session"
	"github.com/wricardo/sessionsocket/realtime/store"
	"github.com/wricardo/sessionsocket/transport/mcp"
	"github.com/wricardo/sessionsocket/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "sessionsocket"
)

const (
	cleanupInterval = time.Hour
	connectTimeout  = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "WebSocket session relay and clients",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars("SESSIONSOCKET_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			chatCommand(),
			mcpCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the development relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port"},
			&cli.StringFlag{Name: "nats-url", Usage: "NATS server for cross-instance delivery"},
			&cli.BoolFlag{Name: "strict", Usage: "Require session ids to be UUIDs"},
			&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain", Sources: cli.EnvVars("NGROK_DOMAIN")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.Bool("debug"), os.Stderr)

			var tunnel *tunnelOptions
			if cmd.Bool("ngrok") {
				tunnel = &tunnelOptions{
					authToken: cmd.String("ngrok-auth"),
					domain:    cmd.String("ngrok-domain"),
				}
				if tunnel.domain == "" {
					tunnel.domain = cfg.Server.NgrokDomain
				}
			}
			return runServer(ctx, cfg, logger, tunnel)
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat in a session from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Relay base URL, e.g. ws://localhost:8000/ws"},
			&cli.StringFlag{Name: "session", Usage: "Session to join (a new one when empty)"},
			&cli.StringFlag{Name: "type", Value: "chat_message", Usage: "Message type for outgoing lines"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.Bool("debug"), os.Stderr)

			opts := chatOptions{
				sessionID: cmd.String("session"),
				msgType:   cmd.String("type"),
			}
			if opts.sessionID == "" {
				opts.sessionID = cfg.Client.Session
			}
			if opts.sessionID == "" {
				opts.sessionID = session.NewID()
			}
			return runChat(ctx, cfg, logger, opts, os.Stdin, os.Stdout)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run an MCP stdio server driving a client store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Relay base URL, e.g. ws://localhost:8000/ws"},
			&cli.StringFlag{Name: "session", Usage: "Session to join at startup"},
			&cli.IntFlag{Name: "inbox", Value: mcp.DefaultInboxSize, Usage: "Messages retained for recent_messages"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol
			logger := newLogger(cmd.Bool("debug"), os.Stderr)

			s := store.New(
				websocket.NewDialer(websocket.WithDialerLogger(logger)),
				store.WithBaseURL(cfg.Client.BaseURL),
				store.WithLogger(logger),
			)
			defer s.Disconnect()

			bridge := mcp.NewBridge(s, mcp.WithInboxSize(int(cmd.Int("inbox"))), mcp.WithLogger(logger))
			defer bridge.Close()

			sessionID := cmd.String("session")
			if sessionID == "" {
				sessionID = cfg.Client.Session
			}
			if sessionID != "" {
				s.Sync(sessionID)
			}

			logger.Info().Str("url", cfg.Client.BaseURL).Msg("MCP stdio server ready")
			return bridge.ServeStdio()
		},
	}
}

// loadConfig layers defaults, the YAML file, .env, the environment and the
// flags set on cmd.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cmd.IsSet("url") {
		cfg.Client.BaseURL = cmd.String("url")
	}
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("nats-url") {
		cfg.Server.NATSURL = cmd.String("nats-url")
	}
	if cmd.IsSet("strict") {
		cfg.Server.StrictSessionIDs = cmd.Bool("strict")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a console logger on w.
func newLogger(debug bool, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// relayServer is the wired relay: hub, session directory, bus, HTTP routes
// and the /mcp bridge.
type relayServer struct {
	handler  http.Handler
	hub      *websocket.Hub
	sessions *session.Manager
	bus      relay.Bus
	api      *api.Server
	bridge   *mcp.Bridge
	client   *store.Store
}

// newRelay wires the relay components. The hub runs until ctx is done.
func newRelay(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*relayServer, error) {
	sessions := session.NewManager()
	hub := websocket.NewHub(
		websocket.WithHandler(websocket.EchoHandler(cfg.Server.EchoPrefix)),
		websocket.WithObserver(sessions),
		websocket.WithHubLogger(logger.With().Str("component", "hub").Logger()),
	)
	go hub.Run(ctx)

	var bus relay.Bus
	if cfg.Server.NATSURL != "" {
		natsBus, err := relay.DialNATS(cfg.Server.NATSURL, cfg.Server.RelayChannel, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("url", cfg.Server.NATSURL).Str("subject", cfg.Server.RelayChannel).Msg("using NATS relay bus")
		bus = natsBus
	} else {
		bus = relay.NewLocalBus()
	}

	// The /mcp endpoint drives a client store pointed back at this server.
	client := store.New(
		websocket.NewDialer(websocket.WithDialerLogger(logger)),
		store.WithBaseURL(localBaseURL(cfg.Server)),
		store.WithLogger(logger),
	)
	bridge := mcp.NewBridge(client, mcp.WithLogger(logger))

	apiServer := api.NewServer(hub, sessions, bus,
		api.WithStrictSessionIDs(cfg.Server.StrictSessionIDs),
		api.WithMCPHandler(bridge.HTTPHandler()),
		api.WithLogger(logger.With().Str("component", "api").Logger()),
	)
	if err := apiServer.Start(); err != nil {
		bus.Close()
		return nil, err
	}

	return &relayServer{
		handler:  apiServer,
		hub:      hub,
		sessions: sessions,
		bus:      bus,
		api:      apiServer,
		bridge:   bridge,
		client:   client,
	}, nil
}

// Close releases the bus and the bridge store.
func (r *relayServer) Close() {
	r.bridge.Close()
	r.client.Disconnect()
	r.api.Close()
	r.bus.Close()
}

// localBaseURL is the WebSocket base URL a process on this host uses to reach
// the relay.
func localBaseURL(s config.ServerConfig) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, fmt.Sprint(s.Port)))
}

type tunnelOptions struct {
	authToken string
	domain    string
}

// runServer serves the relay until ctx is done. If tunnel is set, it also
// provisions a public ngrok tunnel.
func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, tunnel *tunnelOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	relaySrv, err := newRelay(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}
	defer relaySrv.Close()

	addr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           relaySrv.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup

	// Start session cleanup routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessionCleanupRoutine(ctx, relaySrv.sessions, cfg.Server.SessionTTL, logger)
	}()

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		logger.Info().Msgf("WebSocket: ws://%s/ws/<session_id>", addr)
		logger.Info().Msgf("Push: POST http://%s/send/<session_id>?message=...", addr)
		logger.Info().Msgf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	if tunnel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTunnel(ctx, tunnel, relaySrv.handler, logger)
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Wait for all goroutines to finish
	wg.Wait()
	logger.Info().Msg("Server stopped")

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
		return nil
	}
}

// runTunnel serves handler through an ngrok tunnel until ctx is done.
func runTunnel(ctx context.Context, opts *tunnelOptions, handler http.Handler, logger zerolog.Logger) {
	if opts.authToken == "" {
		logger.Warn().Msg("Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	logger.Info().Msg("Starting ngrok tunnel...")

	var endpoint ngrokConfig.Tunnel
	if opts.domain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(opts.domain))
		logger.Info().Str("domain", opts.domain).Msg("Using custom ngrok domain")
	} else {
		endpoint = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(opts.authToken))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close ngrok tunnel")
		}
	}()

	publicURL := tun.URL()
	wsURL := "wss" + strings.TrimPrefix(publicURL, "https")
	logger.Info().Str("url", publicURL).Msg("Ngrok tunnel established")
	logger.Info().Msgf("  WebSocket (ngrok): %s/ws/<session_id>", wsURL)
	logger.Info().Msgf("  MCP endpoint (ngrok): %s/mcp", publicURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Ngrok server error")
	}
	logger.Info().Msg("Ngrok tunnel closed")
}

// sessionCleanupRoutine periodically removes idle sessions that have not
// been active within ttl.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, ttl time.Duration, logger zerolog.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(ttl); removed > 0 {
				logger.Info().Int("removed", removed).Msg("Cleaned up expired sessions")
			}
		}
	}
}

type chatOptions struct {
	sessionID string
	msgType   string
}

// chatMessage is the payload of chat frames.
type chatMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// relayError is the payload of "error" frames sent by the relay.
type relayError struct {
	Message string `json:"message"`
}

// runChat follows opts.sessionID, prints connection transitions and inbound
// chat messages to out, and sends every line read from in. It returns when
// in is exhausted or ctx is done.
func runChat(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts chatOptions, in io.Reader, out io.Writer) error {
	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	s := store.New(
		websocket.NewDialer(websocket.WithDialerLogger(logger)),
		store.WithBaseURL(cfg.Client.BaseURL),
		store.WithLogger(logger),
	)
	defer s.Disconnect()

	settled := make(chan store.Status, 1)
	stopWatch := s.WatchStatus(func(status store.Status) {
		if status == store.StatusConnecting {
			return
		}
		printf("* %s\n", status.Indicator())
		select {
		case settled <- status:
		default:
		}
	})
	defer stopWatch()

	stopListen := store.On(s, opts.msgType, func(m chatMessage) {
		printf("< %s\n", m.Text)
	})
	defer stopListen()
	stopErrors := store.On(s, "error", func(p relayError) {
		printf("! relay error: %s\n", p.Message)
	})
	defer stopErrors()

	printf("* session %s\n", opts.sessionID)
	s.Sync(opts.sessionID)

	select {
	case status := <-settled:
		if status != store.StatusConnected {
			printf("* could not connect, lines will fail until connected\n")
		}
	case <-time.After(connectTimeout):
		printf("* still %s, lines will fail until connected\n", s.Status())
	case <-ctx.Done():
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			msg := chatMessage{ID: uuid.NewString(), Text: text}
			if err := s.Send(opts.msgType, msg); err != nil {
				if errors.Is(err, store.ErrNotConnected) {
					printf("! failed (offline): %s\n", text)
					continue
				}
				printf("! failed: %s: %v\n", text, err)
				continue
			}
			printf("> %s\n", text)
		}
	}
}
