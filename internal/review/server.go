// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/store"
	"github.com/pdiddy/trialmatch/pkg/types"
)

const reviewerKey = "reviewer"

// Runs is the orchestrator surface the reviewer channel drives.
type Runs interface {
	Pending(ctx context.Context) ([]store.RunSummary, error)
	Get(ctx context.Context, runID string) (*types.PipelineRunState, error)
	Resume(ctx context.Context, runID string, d Decision) (*types.PipelineRunState, error)
}

// Server is the HTTP reviewer channel.
type Server struct {
	runs   Runs
	secret []byte
	logger *zap.Logger
	e      *echo.Echo
}

// NewServer builds the echo server. An empty secret disables bearer auth.
func NewServer(runs Runs, secret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runs: runs, secret: []byte(secret), logger: logger, e: echo.New()}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(s.requestLogger)

	s.e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	g := s.e.Group("/reviews", s.auth)
	g.GET("", s.listPending)
	g.GET("/:id", s.getRun)
	g.POST("/:id/decision", s.decide)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("review server listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// IssueToken signs an HS256 reviewer token whose subject is reviewer.
func IssueToken(secret, reviewer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   reviewer,
		Issuer:    "trialmatch",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return nil
	}
}

func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(s.secret) == 0 {
			return next(c)
		}
		header := c.Request().Header.Get("Authorization")
		if header == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid || claims.Subject == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(reviewerKey, claims.Subject)
		return next(c)
	}
}

func (s *Server) listPending(c echo.Context) error {
	pending, err := s.runs.Pending(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"pending": pending,
		"total":   len(pending),
	})
}

// runView is what a reviewer sees for one run.
type runView struct {
	RunID       string                        `json:"run_id"`
	Status      types.RunStatus               `json:"status"`
	Profile     *types.PatientProfile         `json:"profile,omitempty"`
	Trials      []types.CandidateTrial        `json:"trials"`
	Assessments []types.EligibilityAssessment `json:"assessments"`
	Summary     *types.EligibilitySummary     `json:"summary,omitempty"`
	Review      *types.ReviewRecord           `json:"review,omitempty"`
	Missing     []string                      `json:"missing_enrichments,omitempty"`
	Failure     *types.FailureInfo            `json:"failure,omitempty"`
}

func viewOf(st *types.PipelineRunState) runView {
	return runView{
		RunID:       st.RunID,
		Status:      st.Status,
		Profile:     st.Profile,
		Trials:      st.Trials,
		Assessments: st.Assessments,
		Summary:     st.Summary,
		Review:      st.Review,
		Missing:     st.MissingEnrichments,
		Failure:     st.Failure,
	}
}

func (s *Server) getRun(c echo.Context) error {
	st, err := s.runs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, viewOf(st))
}

func (s *Server) decide(c echo.Context) error {
	var d Decision
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if reviewer, ok := c.Get(reviewerKey).(string); ok {
		d.Reviewer = reviewer
	}

	st, err := s.runs.Resume(c.Request().Context(), c.Param("id"), d)
	switch {
	case err == nil, failure.Is(err, failure.KindReviewRejected):
		s.logger.Info("review decision applied",
			zap.String("run_id", c.Param("id")),
			zap.String("action", string(d.Action)),
			zap.String("reviewer", d.Reviewer))
		return c.JSON(http.StatusOK, viewOf(st))
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, ErrNotAwaitingReview):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case failure.Is(err, failure.KindValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("resume after review failed", zap.String("run_id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
