package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/recallbank/recalld/internal/knowledge"
)

// UsageRequest is the request body for POST /api/v1/knowledge/:table/:id/usage.
type UsageRequest struct {
	WasUseful bool `json:"was_useful"`
}

// MaturityResponse reports the confidence resulting from a feedback event.
type MaturityResponse struct {
	ConfidenceScore float64 `json:"confidence_score"`
}

func (s *Server) handleRecordUsage(c echo.Context) error {
	table, id, err := tableAndID(c)
	if err != nil {
		return err
	}
	var req UsageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conf, err := s.svc.RecordUsage(table, id, req.WasUseful)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MaturityResponse{ConfidenceScore: conf})
}

func (s *Server) handleConfirm(c echo.Context) error {
	table, id, err := tableAndID(c)
	if err != nil {
		return err
	}
	conf, err := s.svc.ConfirmKnowledge(table, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MaturityResponse{ConfidenceScore: conf})
}

// ContradictRequest is the request body for
// POST /api/v1/knowledge/:table/:id/contradict.
type ContradictRequest struct {
	Reason        string `json:"reason"`
	ReplacementID *int64 `json:"replacement_id,omitempty"`
}

func (s *Server) handleContradict(c echo.Context) error {
	table, id, err := tableAndID(c)
	if err != nil {
		return err
	}
	var req ContradictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.ContradictKnowledge(table, id, req.Reason, req.ReplacementID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SupersedeRequest is the request body for
// POST /api/v1/knowledge/:table/:id/supersede.
type SupersedeRequest struct {
	Content string `json:"content"`
	Reason  string `json:"reason,omitempty"`
	// Extra carries table-specific field overrides for the replacement
	// record, e.g. prevention for learnings or reasoning for decisions.
	Extra map[string]string `json:"extra,omitempty"`
}

func (s *Server) handleSupersede(c echo.Context) error {
	table, id, err := tableAndID(c)
	if err != nil {
		return err
	}
	var req SupersedeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	newID, err := s.svc.SupersedeKnowledge(table, id, req.Content, req.Reason, req.Extra)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, SaveResponse{ID: newID})
}

func (s *Server) handleGetByMaturity(c echo.Context) error {
	table, err := knowledge.ParseTable(c.Param("table"))
	if err != nil {
		return httpError(err)
	}
	minConfidence := 0.0
	if raw := c.QueryParam("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_confidence")
		}
		minConfidence = v
	}
	summaries, err := s.svc.GetKnowledgeByMaturity(
		table,
		knowledge.Status(c.QueryParam("status")),
		minConfidence,
		queryInt(c, "limit", 20),
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleListHypotheses(c echo.Context) error {
	summaries, err := s.svc.Store().ListHypotheses(queryInt(c, "limit", 20))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleListContradicted(c echo.Context) error {
	summaries, err := s.svc.Store().ListContradicted(queryInt(c, "limit", 20))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func tableAndID(c echo.Context) (knowledge.Table, int64, error) {
	table, err := knowledge.ParseTable(c.Param("table"))
	if err != nil {
		return 0, 0, httpError(err)
	}
	id, err := pathID(c)
	if err != nil {
		return 0, 0, err
	}
	return table, id, nil
}
