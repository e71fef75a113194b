// ABOUTME: Entry point for the ledgerbot chat gateway
// ABOUTME: Subcommands to serve the webhook, write a config, and query a running gateway

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/ledgerbot/internal/config"
	"github.com/2389/ledgerbot/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _          _                 _           _
 | | ___  __| | __ _  ___ _ __| |__   ___ | |_
 | |/ _ \/ _' |/ _' |/ _ \ '__| '_ \ / _ \| __|
 | |  __/ (_| | (_| |  __/ |  | |_) | (_) | |_
 |_|\___|\__,_|\__, |\___|_|  |_.__/ \___/ \__|
               |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LEDGERBOT_CONFIG env var > XDG_CONFIG_HOME/ledgerbot/gateway.yaml > ~/.config/ledgerbot/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LEDGERBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ledgerbot", "gateway.yaml")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ledgerbot <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the gateway")
	fmt.Fprintln(w, "  init      Create a new config file interactively")
	fmt.Fprintln(w, "  health    Check gateway health")
	fmt.Fprintln(w, "  status    Print the status of a running gateway")
	fmt.Fprintln(w, "  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	// secrets may live in .env next to the binary; a missing file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runFetch(ctx, "/health", os.Stdout)
	case "status":
		err = runFetch(ctx, "/status", os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Ledger.URL)
	green.Print("    ▶ ")
	fmt.Printf("Blocks:    ")
	if cfg.Stream.Enabled {
		fmt.Println(cfg.Stream.URL)
	} else {
		gray.Println("disabled")
	}
	if cfg.Frontends.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s\n", cfg.Frontends.Matrix.UserID)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting ledgerbot",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"ledger_url", cfg.Ledger.URL,
		"stream_enabled", cfg.Stream.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runFetch GETs path on the configured gateway and prints the body.
func runFetch(ctx context.Context, path string, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return fetchEndpoint(ctx, "http://"+cfg.Server.HTTPAddr, path, out)
}

func fetchEndpoint(ctx context.Context, baseURL, path string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	return nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "ledgerbot configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)

	fmt.Fprintln(out, "\n--- Messenger Configuration ---")
	fmt.Fprintln(out, "Secrets are written as ${VAR} references; put the values in .env")
	tokenVar := prompt(reader, out, "Env var holding the page access token", "PAGE_ACCESS_TOKEN")
	verifyVar := prompt(reader, out, "Env var holding the verify token", "VERIFY_TOKEN")
	secretVar := prompt(reader, out, "Env var holding the app secret (leave empty to skip signature checks)", "")

	fmt.Fprintln(out, "\n--- Ledger Configuration ---")
	ledgerURL := prompt(reader, out, "Ledger GraphQL URL", config.DefaultLedgerURL)
	streamEnabled := isYes(prompt(reader, out, "Enable block notifications?", "yes"))
	streamURL := config.DefaultStreamURL
	if streamEnabled {
		streamURL = prompt(reader, out, "Block stream websocket URL", config.DefaultStreamURL)
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, out, "Enable Tailscale?", "no"))

	var tsHostname string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, out, "Tailscale hostname", "ledgerbot")
		tsEphemeral = isYes(prompt(reader, out, "Ephemeral node?", "no"))
		tsFunnel = isYes(prompt(reader, out, "Enable Funnel (public HTTPS, needed for Messenger)?", "yes"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# ledgerbot configuration\n")
	cfg.WriteString("# Generated by ledgerbot init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("messenger:\n")
	cfg.WriteString(fmt.Sprintf("  page_access_token: \"${%s}\"\n", tokenVar))
	cfg.WriteString(fmt.Sprintf("  verify_token: \"${%s}\"\n", verifyVar))
	if secretVar != "" {
		cfg.WriteString(fmt.Sprintf("  app_secret: \"${%s}\"\n", secretVar))
	}
	cfg.WriteString("\n")

	cfg.WriteString("ledger:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", ledgerURL))
	cfg.WriteString("\n")

	cfg.WriteString("stream:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", streamEnabled))
	cfg.WriteString(fmt.Sprintf("  url: %q\n", streamURL))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the gateway:")
	fmt.Fprintln(out, "  ledgerbot serve")

	return nil
}

func isYes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
