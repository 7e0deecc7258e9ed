// Package httpserver exposes the survey agent over REST and WebSocket.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/agent"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/livekit"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/remote"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Directory lists and resolves surveys and respondents.
type Directory interface {
	Survey(ctx context.Context, id int64) (survey.Survey, error)
	ListSurveys(ctx context.Context) ([]survey.Survey, error)
	Employee(ctx context.Context, id int64) (survey.Employee, error)
	ListEmployees(ctx context.Context) ([]survey.Employee, error)
}

// HealthChecker probes one upstream service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server bundles the router and its dependencies.
type Server struct {
	machine    *agent.Machine
	directory  Directory
	minter     *livekit.TokenMinter
	livekitURL string
	audioWS    http.HandlerFunc
	probes     map[string]HealthChecker
}

// New constructs the Echo router. audioWS may be nil to disable the audio
// endpoint; probes keys name the services reported by /readyz.
func New(machine *agent.Machine, directory Directory, minter *livekit.TokenMinter, livekitURL string, audioWS http.HandlerFunc, probes map[string]HealthChecker) *echo.Echo {
	s := &Server{
		machine:    machine,
		directory:  directory,
		minter:     minter,
		livekitURL: livekitURL,
		audioWS:    audioWS,
		probes:     probes,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/readyz", s.handleReadyz)

	v1 := e.Group("/api/v1")
	v1.GET("/surveys", s.handleListSurveys)
	v1.GET("/surveys/:id", s.handleGetSurvey)
	v1.GET("/employees", s.handleListEmployees)
	v1.GET("/employees/:id", s.handleGetEmployee)

	v1.POST("/agent/start", s.handleStart)
	v1.POST("/agent/respond", s.handleRespond)
	v1.POST("/agent/abandon", s.handleAbandon)
	v1.GET("/agent/resume", s.handleResume)
	v1.GET("/agent/session/:id", s.handleSession)
	v1.GET("/agent/session/:id/results", s.handleResults)
	if s.audioWS != nil {
		v1.GET("/agent/audio", echo.WrapHandler(s.audioWS))
	}

	v1.POST("/livekit/token", s.handleLiveKitToken)

	return e
}

func (s *Server) handleReadyz(c echo.Context) error {
	ctx := c.Request().Context()
	status := map[string]string{}
	ready := true
	for name, p := range s.probes {
		if err := p.Health(ctx); err != nil {
			status[name] = err.Error()
			ready = false
		} else {
			status[name] = "ok"
		}
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{"ready": ready, "services": status})
}

func (s *Server) handleListSurveys(c echo.Context) error {
	surveys, err := s.directory.ListSurveys(c.Request().Context())
	if err != nil {
		return agentError(c, err)
	}
	if surveys == nil {
		surveys = []survey.Survey{}
	}
	return c.JSON(http.StatusOK, surveys)
}

func (s *Server) handleGetSurvey(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sv, err := s.directory.Survey(c.Request().Context(), id)
	if err != nil {
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, sv)
}

func (s *Server) handleListEmployees(c echo.Context) error {
	employees, err := s.directory.ListEmployees(c.Request().Context())
	if err != nil {
		return agentError(c, err)
	}
	if employees == nil {
		employees = []survey.Employee{}
	}
	return c.JSON(http.StatusOK, employees)
}

func (s *Server) handleGetEmployee(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	e, err := s.directory.Employee(c.Request().Context(), id)
	if err != nil {
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

type startRequest struct {
	SurveyID   int64 `json:"survey_id"`
	EmployeeID int64 `json:"employee_id"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SurveyID == 0 || req.EmployeeID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "survey_id and employee_id required")
	}
	reply, err := s.machine.Start(c.Request().Context(), req.SurveyID, req.EmployeeID)
	if err != nil {
		if errors.Is(err, agent.ErrActiveSessionExists) {
			resp := map[string]any{"error": "respondent already has an active session"}
			if snap, ok := s.machine.Resume(req.EmployeeID); ok {
				resp["session_id"] = snap.ID
			}
			return c.JSON(http.StatusConflict, resp)
		}
		return agentError(c, err)
	}
	return c.JSON(http.StatusCreated, reply)
}

type respondRequest struct {
	SessionID  string   `json:"session_id"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (s *Server) handleRespond(c echo.Context) error {
	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}
	// Typed text carries full transcript confidence unless stated otherwise.
	conf := 1.0
	if req.Confidence != nil {
		conf = *req.Confidence
	}
	reply, err := s.machine.SubmitResponse(c.Request().Context(), req.SessionID, req.Text, conf)
	if err != nil {
		if remote.IsUnavailable(err) {
			// A retry only makes sense while the session survived the
			// failure. An interpret outage commits no turn and fails the
			// session, so report that terminally instead of inviting a
			// retry that can only conflict.
			if snap, gerr := s.machine.Get(req.SessionID); gerr == nil && !snap.Status.Terminal() {
				return c.JSON(http.StatusServiceUnavailable, map[string]any{
					"error":      "upstream service unavailable",
					"retry_turn": true,
				})
			}
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"error":          "upstream service unavailable",
				"session_failed": true,
			})
		}
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, reply)
}

type abandonRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleAbandon(c echo.Context) error {
	var req abandonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}
	if req.Reason == "" {
		req.Reason = "caller request"
	}
	if err := s.machine.Abandon(c.Request().Context(), req.SessionID, req.Reason); err != nil {
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(agent.StatusAbandoned)})
}

func (s *Server) handleResume(c echo.Context) error {
	employeeID, err := strconv.ParseInt(c.QueryParam("employee_id"), 10, 64)
	if err != nil || employeeID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "employee_id required")
	}
	snap, ok := s.machine.Resume(employeeID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no active session for respondent")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleSession(c echo.Context) error {
	snap, err := s.machine.Get(c.Param("id"))
	if err != nil {
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleResults(c echo.Context) error {
	id := c.Param("id")
	answers, err := s.machine.Results(id)
	if err != nil {
		return agentError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": id, "answers": answers})
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

func (s *Server) handleLiveKitToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Room == "" || req.Identity == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room and identity required")
	}
	if !s.minter.Configured() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "livekit credentials not configured")
	}
	token, err := s.minter.Mint(req.Room, req.Identity, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token minting failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token, "url": s.livekitURL})
}

// agentError maps domain errors onto HTTP status codes.
func agentError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, agent.ErrSessionExpired), errors.Is(err, agent.ErrInvalidState),
		errors.Is(err, agent.ErrActiveSessionExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case remote.IsUnavailable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream service unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
