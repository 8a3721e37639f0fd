package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"snowytunnel/client"
	"snowytunnel/internal/config"
	"snowytunnel/internal/fingerprint"
	"snowytunnel/internal/logging"
	"snowytunnel/server"
	"snowytunnel/stream"
)

const (
	PackageName = "snowytunnel"
	ServerMode  = "s"
	ClientMode  = "c"
	ServerIcon  = "🌐"
	ClientIcon  = "🖥️"

	defaultServerConfigPath = "server-config.json"
	defaultClientConfigPath = "client-config.json"
)

func main() {
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n⏹️  Interrupt received. Shutting down...")
		appCtxCancel()
	}()

	var mode string
	if len(os.Args) < 2 {
		mode = strings.ToLower(strings.TrimSpace(promptForMode()))
	} else {
		mode = os.Args[1]
	}

	configPath := ""
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	logger := logging.NewStdLogger()

	var err error
	switch mode {
	case ServerMode:
		fmt.Printf("%s Starting server...\n", ServerIcon)
		if configPath == "" {
			configPath = defaultServerConfigPath
		}
		err = runServer(appCtx, configPath, logger)
	case ClientMode:
		fmt.Printf("%s️ Starting client...\n", ClientIcon)
		if configPath == "" {
			configPath = defaultClientConfigPath
		}
		err = runClient(appCtx, configPath, logger)
	default:
		fmt.Printf("❌ Unknown mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("❌ %s: %v\n", PackageName, err)
		os.Exit(1)
	}
}

// runServer loads a ServerConfiguration from configPath, listens on its
// ListenAddress, and for every inbound connection drives the SnowyTunnel
// server handshake, relaying successfully authenticated connections'
// plaintext to ForwardAddress.
func runServer(ctx context.Context, configPath string, logger logging.Logger) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	srv, err := server.New(
		[]byte(cfg.PreSharedKey),
		cfg.CamouflageAddress,
		cfg.ReplayCacheCapacity,
		server.WithTOTP([]byte(cfg.PreSharedKey), cfg.TOTP.PeriodSeconds, cfg.TOTP.Skew),
		server.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Printf("server: listening on %s, forwarding to %s", cfg.ListenAddress, cfg.ForwardAddress)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go handleInbound(srv, conn, cfg.ForwardAddress, logger)
	}
}

func handleInbound(srv *server.Server, conn net.Conn, forwardAddress string, logger logging.Logger) {
	st, _, err := srv.AcceptWithEarlyData(conn)
	if err != nil {
		logger.Printf("server: handshake with %s failed: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	backend, err := net.Dial("tcp", forwardAddress)
	if err != nil {
		logger.Printf("server: dial forward address %s: %v", forwardAddress, err)
		_ = st.Close()
		return
	}
	pipe(st, backend)
}

// runClient loads a ClientConfiguration from configPath and listens on its
// ListenAddress, performing one SnowyTunnel handshake per accepted local
// connection and relaying plaintext in both directions.
func runClient(ctx context.Context, configPath string, logger logging.Logger) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}
	if cfg.ListenAddress == "" {
		return fmt.Errorf("client config: 'ListenAddress' must be set to accept local connections")
	}

	spec := fingerprint.Chrome(cfg.CamouflageServerName)
	if cfg.Fingerprint == config.FingerprintFirefox {
		spec = fingerprint.Firefox(cfg.CamouflageServerName)
	}
	if cfg.JA3 != "" {
		spec, err = fingerprint.ParseJA3(cfg.JA3, cfg.CamouflageServerName, nil)
		if err != nil {
			return fmt.Errorf("client config: %w", err)
		}
	}
	c := client.NewWithFingerprint(
		[]byte(cfg.PreSharedKey),
		spec,
		client.WithTOTP(cfg.TOTP.PeriodSeconds, cfg.TOTP.Skew),
		client.WithLogger(logger),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Printf("client: listening on %s, tunneling to %s", cfg.ListenAddress, cfg.ServerAddress)
	for {
		local, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go handleLocal(c, local, cfg.ServerAddress, logger)
	}
}

func handleLocal(c *client.Client, local net.Conn, serverAddress string, logger logging.Logger) {
	remote, err := net.Dial("tcp", serverAddress)
	if err != nil {
		logger.Printf("client: dial %s: %v", serverAddress, err)
		_ = local.Close()
		return
	}
	st, err := c.Connect(remote)
	if err != nil {
		logger.Printf("client: handshake with %s failed: %v", serverAddress, err)
		_ = local.Close()
		_ = remote.Close()
		return
	}
	pipe(st, local)
}

// pipe relays bytes between a and b until either direction hits EOF or an
// error, then closes both.
func pipe(a *stream.SnowyStream, b net.Conn) {
	defer a.Close()
	defer b.Close()

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(a, b); done <- struct{}{} }()
	go func() { _, _ = io.Copy(b, a); done <- struct{}{} }()
	<-done
}

func promptForMode() string {
	fmt.Printf("✨ Welcome to %s!\n", PackageName)
	fmt.Println("Please select mode:")
	fmt.Printf("\t %s - Server %s\n", ServerMode, ServerIcon)
	fmt.Printf("\t %s - Client %s\n", ClientMode, ClientIcon)
	fmt.Print("👉 Your choice: ")

	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}

	return ""
}

func printUsage() {
	fmt.Printf(`Usage: %s <mode> [config-path]
Modes:
  %s  - Server %s
  %s  - Client %s
`, PackageName, ServerMode, ServerIcon, ClientMode, ClientIcon)
}
