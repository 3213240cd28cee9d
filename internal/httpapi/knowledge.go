package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recallbank/recalld/internal/knowledge"
)

// SaveResponse is the response body for record-creating endpoints.
type SaveResponse struct {
	ID int64 `json:"id"`
	// Merged is true when a learning consolidated into an existing record
	// instead of creating a new row.
	Merged bool `json:"merged,omitempty"`
	// Created is false when a memory deduplicated against existing content.
	Created *bool `json:"created,omitempty"`
}

func (s *Server) handleSaveDecision(c echo.Context) error {
	var p knowledge.DecisionParams
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.svc.SaveDecision(p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, SaveResponse{ID: id})
}

func (s *Server) handleListDecisions(c echo.Context) error {
	decisions, err := s.svc.Store().ListDecisions(
		c.QueryParam("project"),
		c.QueryParam("status"),
		queryInt(c, "limit", 20),
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, decisions)
}

func (s *Server) handleGetDecision(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := s.svc.Store().GetDecision(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// OutcomeRequest is the request body for PUT /api/v1/decisions/:id/outcome.
type OutcomeRequest struct {
	Outcome string `json:"outcome"`
	Status  string `json:"status,omitempty"`
}

func (s *Server) handleDecisionOutcome(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Outcome == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "outcome field is required")
	}
	if err := s.svc.Store().UpdateDecisionOutcome(id, req.Outcome, req.Status); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSaveLearning(c echo.Context) error {
	var p knowledge.LearningParams
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, merged, err := s.svc.SaveLearning(p)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	return c.JSON(status, SaveResponse{ID: id, Merged: merged})
}

func (s *Server) handleListLearnings(c echo.Context) error {
	learnings, err := s.svc.Store().ListLearnings(
		c.QueryParam("error_type"),
		c.QueryParam("project"),
		queryInt(c, "limit", 20),
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, learnings)
}

func (s *Server) handleGetLearning(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	l, err := s.svc.Store().GetLearning(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (s *Server) handleFindSolution(c echo.Context) error {
	errorType := c.QueryParam("error_type")
	if errorType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "error_type parameter is required")
	}
	l, err := s.svc.Store().FindSolution(errorType, c.QueryParam("error_message"), c.QueryParam("project"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (s *Server) handleSaveMemory(c echo.Context) error {
	var p knowledge.MemoryParams
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, created, err := s.svc.SaveMemory(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, SaveResponse{ID: id, Created: &created})
}

func (s *Server) handleSearchMemories(c echo.Context) error {
	memories, err := s.svc.Store().SearchMemories(
		c.QueryParam("q"),
		c.QueryParam("type"),
		c.QueryParam("category"),
		queryInt(c, "min_importance", 0),
		queryInt(c, "limit", 20),
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, memories)
}

func (s *Server) handleGetMemory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := s.svc.Store().GetMemory(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.svc.DeleteMemory(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	s.logger.Debug("memory deleted", zap.Int64("id", id))
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
