// Package logging provides named zerolog loggers that share one
// configuration. Loggers are created on first use and reconfigured in place
// when Configure is called, so packages may hold on to their handle.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects level, format and colour for every logger.
type Config struct {
	Level  string
	Format string
	Color  bool
}

// DefaultConfig is used until Configure is called.
var DefaultConfig = Config{
	Level:  "info",
	Format: FormatConsole,
}

var (
	mu      sync.Mutex
	current = DefaultConfig
	writer  io.Writer = os.Stderr
	loggers = make(map[string]*Handle)
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// Handle is a named logger.
type Handle struct {
	*zerolog.Logger
	name string
}

// Name returns the module name the logger was created with.
func (h *Handle) Name() string {
	return h.name
}

// GetLogger returns the logger for module name, creating it if needed.
func GetLogger(name string) *Handle {
	mu.Lock()
	defer mu.Unlock()

	h, ok := loggers[name]
	if !ok {
		h = NewLogger(current, name, writer)
		loggers[name] = h
	}
	return h
}

// Configure applies cfg to every existing and future logger.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	for _, h := range loggers {
		nl := NewLogger(cfg, h.name, writer)
		*h.Logger = *nl.Logger
	}
}

// SetOutput redirects every logger to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	writer = w
	cfg := current
	mu.Unlock()
	Configure(cfg)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewLogger builds a standalone logger for module writing to w.
func NewLogger(cfg Config, module string, w io.Writer) *Handle {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		if cfg.Level != "" {
			_, _ = fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", cfg.Level)
		}
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == FormatJSON {
		logger = zerolog.New(w).Level(lvl).With().Timestamp().Stack().Str("module", module).Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.StampMilli,
			NoColor:    !cfg.Color,
		}
		logger = zerolog.New(output).Level(lvl).With().Timestamp().Stack().Str("module", module).Logger()
	}
	return &Handle{Logger: &logger, name: module}
}
