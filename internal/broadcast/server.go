package broadcast

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

//go:embed static
var staticFiles embed.FS

const (
	clientQueue     = 16
	writeTimeout    = 10 * time.Second
	pongTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves the viewer page, the WebSocket feed and a JSON dump of the
// records.
type Server struct {
	echo     *echo.Echo
	service  *Service
	hub      *Hub
	source   Source
	listen   string
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewServer wires a hub and a service over source.
func NewServer(cfg *config.ViewerConfig, source Source, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("viewer")

	hub := NewHub(log)
	s := &Server{
		service: NewService(source, hub, cfg.Interval, cfg.MaxDelta, log),
		hub:     hub,
		source:  source,
		listen:  cfg.Listen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	page, _ := fs.Sub(staticFiles, "static")
	e.GET("/", echo.WrapHandler(http.FileServer(http.FS(page))))
	e.GET("/ws", s.handleWS)
	e.GET("/api/records", s.handleRecords)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo = e
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Service returns the broadcast service.
func (s *Server) Service() *Service {
	return s.service
}

// Hub returns the viewer registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen opens the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.logger.Infow("Viewer listening", "addr", ln.Addr().String())
	return ln, nil
}

// Run serves on ln and runs the broadcaster until ctx is done.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.echo, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.service.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Infow("Shutting down viewer")

		// Hijacked WebSocket connections are not closed by Shutdown
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down viewer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("viewer server failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Infow("Viewer stopped")
	return err
}

func (s *Server) handleRecords(c echo.Context) error {
	records, err := s.source.ReadAll()
	if err != nil {
		s.logger.Errorw("Failed to read results", "error", err)
		records = s.service.Snapshot()
	}
	return c.JSON(http.StatusOK, types.Rows(s.source.Header(), records))
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", "error", err)
		return nil
	}

	client, init, err := s.service.Subscribe(clientQueue)
	if err != nil {
		s.logger.Errorw("Failed to subscribe viewer", "error", err)
		_ = conn.Close()
		return nil
	}

	go s.readLoop(conn, client)
	s.writeLoop(conn, client, init)
	return nil
}

// readLoop discards viewer input and drops the client when the peer goes away.
func (s *Server) readLoop(conn *websocket.Conn, client *Client) {
	defer s.hub.Remove(client)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends the initial copy, then queued updates, until the client
// is dropped.
func (s *Server) writeLoop(conn *websocket.Conn, client *Client, init []byte) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.hub.Remove(client)
		_ = conn.Close()
	}()

	if err := s.write(conn, websocket.TextMessage, init); err != nil {
		return
	}
	for {
		select {
		case msg, ok := <-client.Send():
			if !ok {
				_ = s.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.write(conn, websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(kind, data); err != nil {
		s.logger.Debugw("WebSocket write failed", "error", err)
		return err
	}
	return nil
}
