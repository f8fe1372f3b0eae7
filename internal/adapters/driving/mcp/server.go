package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// maxMessageSize bounds a single JSON-RPC message.
const maxMessageSize = 16 << 20

// Config identifies the server and shapes the tool schemas.
type Config struct {
	Name    string
	Version string

	// ContentTypes and SourceTypes constrain the enumerated tool arguments.
	ContentTypes []string
	SourceTypes  []string

	DefaultLimit int
	MaxLimit     int
}

// ConfigFrom derives the server configuration from the process settings.
func ConfigFrom(s domain.Settings) Config {
	return Config{
		Name:         s.Server.Name,
		Version:      s.Server.Version,
		ContentTypes: s.Vocabulary.ContentTypes,
		SourceTypes:  s.Vocabulary.SourceTypes,
		DefaultLimit: s.Search.DefaultLimit,
		MaxLimit:     s.Search.MaxLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "lorekeep"
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = domain.MaxSearchLimit
	}
	c.DefaultLimit = domain.ClampLimit(c.DefaultLimit, domain.DefaultSearchLimit, c.MaxLimit)
	return c
}

// Server is the MCP server for lorekeep.
type Server struct {
	ports *Ports
	cfg   Config
}

// NewServer creates a new MCP server with the given ports.
func NewServer(ports *Ports, cfg Config) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	// Build once so schema errors surface here rather than per session.
	if _, err := NewDispatcher(ports, cfg); err != nil {
		return nil, err
	}
	return &Server{ports: ports, cfg: cfg}, nil
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled, stdin is closed or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve runs one session over newline-delimited JSON messages.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	d, err := NewDispatcher(s.ports, s.cfg)
	if err != nil {
		return err
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	logger.Info("Serving MCP over stdio")
	out := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			resp := d.Handle(ctx, line)
			if resp == nil {
				continue
			}
			if _, err := out.Write(append(resp, '\n')); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			if err := out.Flush(); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
}

// Handler returns the HTTP handler serving POST /mcp.
// All requests share one session.
func (s *Server) Handler() (http.Handler, error) {
	d, err := NewDispatcher(s.ports, s.cfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		resp := d.Handle(r.Context(), body)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp) //nolint:errcheck
	})
	return mux, nil
}

// RunHTTP starts the MCP server over HTTP on the specified address.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	logger.Info("Serving MCP over HTTP on %s", addr)
	err = httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
