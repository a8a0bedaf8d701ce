// Package discovery locates a local Traefik access log for the file source.
package discovery

import (
	"bufio"
	"os"
	"strings"

	"traefiklens/internal/parser/traefik"

	"github.com/pterm/pterm"
)

// DefaultCandidates are probed when no path is configured.
var DefaultCandidates = []string{
	"traefik/logs/access.log",
	"/var/log/traefik/access.log",
	"/logs/access.log",
}

// sniffLines is how many non-empty lines are inspected for the format check.
const sniffLines = 5

type TraefikDetector struct {
	logger         *pterm.Logger
	parser         *traefik.Parser
	configuredPath string
	autoDiscover   bool
	candidates     []string
}

func NewTraefikDetector(configuredPath string, autoDiscover bool, parser *traefik.Parser, logger *pterm.Logger) *TraefikDetector {
	return &TraefikDetector{
		logger:         logger,
		parser:         parser,
		configuredPath: configuredPath,
		autoDiscover:   autoDiscover,
		candidates:     DefaultCandidates,
	}
}

// Detect returns the log file to tail. A configured path is used as long as
// it is not a directory, even if it does not exist yet; auto-discovery only
// runs without one and accepts the first non-empty file in Traefik format.
func (d *TraefikDetector) Detect() (string, bool) {
	if d.configuredPath != "" {
		info, err := os.Stat(d.configuredPath)
		switch {
		case err == nil && info.IsDir():
			d.logger.WithCaller().Warn("Configured TRAEFIK_LOG_PATH is a directory",
				d.logger.Args("path", d.configuredPath))
			return "", false
		case err != nil && !os.IsNotExist(err):
			d.logger.WithCaller().Warn("Configured TRAEFIK_LOG_PATH not accessible",
				d.logger.Args("path", d.configuredPath, "error", err))
			return "", false
		case err != nil:
			d.logger.Info("Configured TRAEFIK_LOG_PATH does not exist yet, waiting for it",
				d.logger.Args("path", d.configuredPath))
		case !d.isTraefikFormat(d.configuredPath):
			d.logger.Warn("Configured log file does not look like a Traefik access log",
				d.logger.Args("path", d.configuredPath))
		}
		return d.configuredPath, true
	}

	if !d.autoDiscover {
		d.logger.Debug("Auto-discovery disabled and no TRAEFIK_LOG_PATH configured")
		return "", false
	}

	for _, path := range d.candidates {
		info, err := os.Stat(path)
		if err != nil {
			d.logger.Trace("File not accessible", d.logger.Args("path", path, "error", err.Error()))
			continue
		}
		if info.IsDir() || info.Size() == 0 {
			d.logger.Trace("File is directory or empty", d.logger.Args("path", path, "size", info.Size()))
			continue
		}
		if !d.isTraefikFormat(path) {
			d.logger.Debug("Format invalid - not a Traefik access log", d.logger.Args("path", path))
			continue
		}
		d.logger.Info("Traefik log source detected", d.logger.Args("path", path))
		return path, true
	}

	d.logger.Debug("No Traefik log file found via auto-discovery",
		d.logger.Args("hint", "Set TRAEFIK_LOG_PATH in .env"))
	return "", false
}

// isTraefikFormat reports whether any of the first few lines parses as a
// Traefik JSON or CLF access log line.
func (d *TraefikDetector) isTraefikFormat(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inspected := 0
	for scanner.Scan() && inspected < sniffLines {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		inspected++
		if d.parser.CanParse(line) {
			return true
		}
	}
	return false
}
