package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/runs"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleTools(c echo.Context) error {
	list := s.tools.List()
	out := ToolListResponse{Tools: make([]ToolInfo, 0, len(list))}
	for _, t := range list {
		out.Tools = append(out.Tools, ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// bindRun decodes and validates a RunRequest.
func (s *Server) bindRun(c echo.Context) (RunRequest, error) {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	return req, nil
}

// handleSubmit starts a background run and returns its ID.
func (s *Server) handleSubmit(c echo.Context) error {
	req, err := s.bindRun(c)
	if err != nil {
		return err
	}

	run, err := s.runs.Start(c.Request().Context(), req.Question, req.ModelID)
	switch {
	case errors.Is(err, runs.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/runs/"+run.ID())
	return c.JSON(http.StatusAccepted, RunResponse{ID: run.ID(), Status: run.Status()})
}

func (s *Server) handleList(c echo.Context) error {
	list := s.runs.List()
	return c.JSON(http.StatusOK, RunListResponse{Runs: list, Count: len(list)})
}

// lookup resolves the :id path parameter.
func (s *Server) lookup(c echo.Context) (*runs.Run, error) {
	run, err := s.runs.Get(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return run, nil
}

func (s *Server) handleGet(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.Detail())
}

// handleCancel asks a run to stop at its next stage boundary. The run's
// status flips to cancelled once the driver returns.
func (s *Server) handleCancel(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := s.runs.Cancel(run.ID()); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	s.logger.Info(c.Request().Context(), "run cancel requested", zap.String("run_id", run.ID()))
	return c.JSON(http.StatusAccepted, RunResponse{ID: run.ID(), Status: run.Status()})
}
