// Terminal file browser for a filecove server.
//
// Sub-commands:
//
//	filecove-browse [flags]         Browse files (default)
//	filecove-browse login [flags]   Authenticate and save a token
//	filecove-browse logout          Revoke and delete the saved token
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/filecove/filecove/internal/tui"
	"github.com/filecove/filecove/pkg/browser"
	"github.com/filecove/filecove/pkg/client"
	"github.com/filecove/filecove/pkg/logger"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			cmdLogin(os.Args[2:])
			return
		case "logout":
			cmdLogout(os.Args[2:])
			return
		case "browse":
			// Strip "browse" from args and fall through to normal parsing
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cmdBrowse()
}

func cmdBrowse() {
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	startPath := flag.String("path", "/", "Folder to open first")
	token := flag.String("token", "", "JWT authentication token")
	logFile := flag.String("log", "", "Write logs to this file (default: discard while the UI runs)")
	verbosity := flag.Int("v", 1, "Verbosity level: 0=quiet, 1=info, 2=debug")

	flag.Parse()

	// The UI owns the terminal, so logs go to a file or nowhere.
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetOutput(f)
		switch *verbosity {
		case 0:
			logger.SetLevel(logger.LevelQuiet)
		case 1:
			logger.SetLevel(logger.LevelInfo)
		default:
			logger.SetLevel(logger.LevelDebug)
		}
	} else {
		logger.SetLevel(logger.LevelQuiet)
	}

	if *token == "" {
		*token = os.Getenv("FILECOVE_TOKEN")
	}

	// Auto-load from token file if no token provided
	var tokenFile *client.TokenFile
	if *token == "" {
		tf, err := client.LoadToken()
		if err == nil {
			if tf.IsExpired(0) {
				fmt.Fprintf(os.Stderr, "Error: saved token has expired. Run 'filecove-browse login' to authenticate.\n")
				os.Exit(1)
			}
			*token = tf.Token
			tokenFile = tf
			logger.Info("Using saved token for %s@%s", tf.Username, tf.Server)
		}
	}

	if *token == "" {
		fmt.Fprintf(os.Stderr, "Error: no token available. Use -token, FILECOVE_TOKEN, or run 'filecove-browse login'\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseURL := strings.TrimSuffix(*serverURL, "/")
	c := client.New(client.Config{
		BaseURL:   baseURL,
		Timeout:   5 * time.Minute, // uploads share this client
		AuthToken: *token,
	})

	// Keep the saved token fresh while the browser runs
	if tokenFile != nil {
		c.StartTokenRefreshLoop(ctx, tokenFile)
	}

	b := browser.New(ctx, browser.Config{API: c})
	defer b.Close()

	sse := client.NewSSEClient(baseURL)
	sse.SetAuthToken(*token)
	events, errs := sse.Subscribe(ctx)
	go func() {
		for err := range errs {
			logger.Debug("Event stream: %v", err)
		}
	}()
	b.WatchEvents(events)

	if *startPath != "/" {
		b.SetPath(ctx, *startPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := tui.Run(ctx, b); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "Server URL")
	useOIDC := fs.Bool("oidc", false, "Use OIDC device code flow")
	deviceName := fs.String("device", "", "Device name (default: hostname)")
	fs.Parse(args)

	if *deviceName == "" {
		name, _ := os.Hostname()
		*deviceName = name
	}

	cfg := client.Config{
		BaseURL: strings.TrimSuffix(*serverURL, "/"),
		Timeout: 30 * time.Second,
	}
	c := client.New(cfg)
	ctx := context.Background()

	if *useOIDC {
		resp, err := c.DeviceCodeAuth(ctx, *deviceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		tf := &client.TokenFile{
			Token:     resp.Token,
			ExpiresAt: resp.ExpiresAt,
			Server:    *serverURL,
			Username:  resp.User.Username,
		}
		if err := client.SaveToken(tf); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save token: %v\n", err)
		}
		fmt.Printf("Login successful! Token saved to %s\n", client.TokenFilePath())
		return
	}

	// Interactive username/password login
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}
	password := string(passwordBytes)

	resp, err := c.Login(ctx, username, password, "", *deviceName)
	if err != nil && strings.Contains(err.Error(), "totp_required") {
		fmt.Print("Two-factor code: ")
		code, _ := reader.ReadString('\n')
		resp, err = c.Login(ctx, username, password, strings.TrimSpace(code), *deviceName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tf := &client.TokenFile{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Server:    *serverURL,
		Username:  resp.User.Username,
	}
	if err := client.SaveToken(tf); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save token: %v\n", err)
	}
	fmt.Printf("Login successful! Logged in as %s. Token saved to %s\n", resp.User.Username, client.TokenFilePath())
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	tf, err := client.LoadToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No saved token found.\n")
		os.Exit(1)
	}

	cfg := client.Config{
		BaseURL:   strings.TrimSuffix(tf.Server, "/"),
		Timeout:   10 * time.Second,
		AuthToken: tf.Token,
	}
	c := client.New(cfg)

	if err := c.Logout(context.Background()); err != nil {
		logger.Debug("Server logout failed (token may already be expired): %v", err)
	}

	if err := client.DeleteToken(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to delete token file: %v\n", err)
	}
	fmt.Println("Logged out successfully.")
}
