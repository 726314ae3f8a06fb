// Package setup contains the interactive first-run wizard that writes
// a starter config file.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/judesonleo/songcast/internal/config"
)

const (
	defaultConfigPath = "/etc/songcast/config.yaml"
	defaultListenPort = "3000"
	defaultHealthPort = "8081"
	defaultSongsDir   = "/var/lib/songcast/songs"
	defaultBibleDir   = "/var/lib/songcast/bible"
	defaultStaticDir  = "/var/lib/songcast/build"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string // override default config path
}

// RunWizard runs the interactive setup wizard. It takes io.Reader and
// io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo songcast setup\n\n")
	}

	fmt.Fprintln(out, "SongCast Setup")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	// Step 1: listen port
	listenPort := promptPort(scanner, out,
		fmt.Sprintf("Listen port [%s]: ", defaultListenPort),
		defaultListenPort)
	listenAddress := net.JoinHostPort("0.0.0.0", listenPort)
	if reason := checkPortAvailable("0.0.0.0", listenPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s %s\n\n", listenPort, reason)
	}

	// Step 2: health port
	healthPort := promptPort(scanner, out,
		fmt.Sprintf("Health check port [%s]: ", defaultHealthPort),
		defaultHealthPort)
	healthAddress := net.JoinHostPort("127.0.0.1", healthPort)
	if reason := checkPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	// Step 3: content directories
	songsDir := prompt(scanner, out,
		fmt.Sprintf("Songs directory [%s]: ", defaultSongsDir), defaultSongsDir)
	checkDir(out, "Songs", songsDir)
	bibleDir := prompt(scanner, out,
		fmt.Sprintf("Bible translations directory [%s]: ", defaultBibleDir), defaultBibleDir)
	checkDir(out, "Bible", bibleDir)

	// Step 4: static client bundle
	staticDir := prompt(scanner, out,
		fmt.Sprintf("Client bundle directory [%s]: ", defaultStaticDir), defaultStaticDir)
	checkDir(out, "Client bundle", staticDir)

	// Step 5: default language
	language := prompt(scanner, out, "Default Bible language [en]: ", "en")

	// Step 6: existing config
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 7: write and validate
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	content := generateConfig(listenAddress, healthAddress, songsDir, bibleDir, staticDir, language)
	if err := writeConfig(configPath, content); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 8: summary
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:       %s\n", configPath)
	fmt.Fprintf(out, "  Server:       http://%s\n", listenAddress)
	fmt.Fprintf(out, "  Health:       http://%s/health\n", healthAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", healthAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u songcast -f")
	fmt.Fprintln(out, "  Validate:       songcast validate --config "+configPath)

	return nil
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

func checkDir(out io.Writer, label, dir string) {
	if _, err := os.Stat(dir); err != nil {
		fmt.Fprintf(out, "  WARNING: %s directory %s does not exist yet.\n\n", label, dir)
	}
}

// yamlEscapeString escapes a string for use inside YAML double quotes.
func yamlEscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// generateConfig creates a commented YAML config string.
func generateConfig(listenAddress, healthAddress, songsDir, bibleDir, staticDir, language string) string {
	return fmt.Sprintf(`# SongCast Configuration
# Generated by: songcast setup

server:
  listen_address: "%s"

  # Directory holding the built web client; unknown paths fall back to
  # index.html
  static_dir: "%s"

  # Shutdown: wait for active connections to finish
  drain_timeout: "30s"

  # WebSocket settings
  max_message_size: 262144  # 256KB
  ping_interval: "30s"
  pong_timeout: "10s"
  write_timeout: "10s"

session:
  # Room code length (4-12 characters)
  code_length: 6

  # How long a room survives after its controller disconnects
  grace_period: "5m"
  sweep_interval: "30s"

  default_language: "%s"

content:
  songs_dir: "%s"
  bible_dir: "%s"

  # Reload the song library when files change
  watch_songs: true

security:
  max_connections: 1000
  max_connections_per_ip: 20

  rate_limit:
    enabled: true
    connections_per_minute: 60
    messages_per_second: 100

logging:
  level: "info"
  format: "json"
  file: ""  # Empty = stdout (journald captures this)

health:
  enabled: true
  endpoint: "/health"
  listen_address: "%s"
  detailed: true

monitoring:
  metrics_enabled: false
  metrics_endpoint: "/metrics"
`, yamlEscapeString(listenAddress), yamlEscapeString(staticDir), yamlEscapeString(language),
		yamlEscapeString(songsDir), yamlEscapeString(bibleDir), yamlEscapeString(healthAddress))
}

// writeConfig writes the config file, creating parent directories as
// needed.
func writeConfig(path, content string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
