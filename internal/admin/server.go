// Package admin serves the JSON API the host web layer uses to inspect the
// fleet and drive commands.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/fleet"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/registry"

	"github.com/labstack/echo/v4"
)

// Fleet is the part of the controller the API needs.
type Fleet interface {
	ListDrones() map[string]registry.DroneRecord
	Drone(id string) (registry.DroneRecord, error)
	Execute(ctx context.Context, id, command string, params protocol.Params) protocol.CommandResult
	Ping(ctx context.Context, id string) protocol.CommandResult
	Disconnect(id string) bool
	SystemStatus() fleet.SystemStatus
	Commands() []string
}

type Server struct {
	fleet Fleet
	e     *echo.Echo
	log   *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type dronesResponse struct {
	Count  int                             `json:"count"`
	Drones map[string]registry.DroneRecord `json:"drones"`
}

// NewServer wires the routes. metrics may be nil.
func NewServer(f Fleet, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{fleet: f, e: echo.New(), log: log.With("component", "admin")}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.handleError

	api := s.e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/commands", s.handleCommands)
	api.GET("/drones", s.handleDrones)
	api.GET("/drones/:id", s.handleDrone)
	api.DELETE("/drones/:id", s.handleDisconnect)
	api.POST("/drones/:id/ping", s.handlePing)
	api.POST("/drones/:id/commands/:command", s.handleCommand)
	if metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("admin API listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.fleet.SystemStatus())
}

func (s *Server) handleCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, s.fleet.Commands())
}

func (s *Server) handleDrones(c echo.Context) error {
	drones := s.fleet.ListDrones()
	return c.JSON(http.StatusOK, dronesResponse{Count: len(drones), Drones: drones})
}

func (s *Server) handleDrone(c echo.Context) error {
	rec, err := s.fleet.Drone(c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDisconnect(c echo.Context) error {
	id := c.Param("id")
	if !s.fleet.Disconnect(id) {
		return echo.NewHTTPError(http.StatusNotFound, registry.ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": registry.StatusDisconnected, "drone_id": id})
}

func (s *Server) handlePing(c echo.Context) error {
	res := s.fleet.Ping(c.Request().Context(), c.Param("id"))
	return c.JSON(statusFor(res), res)
}

// handleCommand takes the command parameters as a JSON object body. An
// empty body means no parameters.
func (s *Server) handleCommand(c echo.Context) error {
	params := protocol.Params{}
	// body only: path params would otherwise land in the map
	if err := new(echo.DefaultBinder).BindBody(c, &params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	id, command := c.Param("id"), c.Param("command")
	res := s.fleet.Execute(c.Request().Context(), id, command, params)
	s.log.Info("command executed", "drone_id", id, "command", command, "success", res.Success)
	return c.JSON(statusFor(res), res)
}

// statusFor maps a failed result onto an HTTP status. The body always
// carries the result itself.
func statusFor(res protocol.CommandResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Error == registry.ErrNotFound.Error():
		return http.StatusNotFound
	case res.Error == dispatch.ErrUnknownCommand, strings.HasPrefix(res.Error, "invalid parameter"):
		return http.StatusBadRequest
	case strings.HasPrefix(res.Error, "timeout"):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "an internal server error has occurred"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "err", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.log.Error("write error response", "err", err)
	}
}
