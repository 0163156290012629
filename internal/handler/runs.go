package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"github.com/labstack/echo/v4"
)

func SetupRunRoutes(g *echo.Group, runService RunServicer, authenticator APIKeyAuthenticator) {
	h := NewRunHandler(runService)
	g.POST("/events", h.PostEvent, APIKeyMiddleware(authenticator))

	runsGroup := g.Group("/runs")
	runsGroup.GET("", h.GetActiveRuns)
	runsGroup.GET("/:run_id", h.GetRun)
	runsGroup.POST("/:run_id/cancel", h.PostCancelRun, APIKeyMiddleware(authenticator))
}

type RunTriggerer interface {
	Trigger(ctx context.Context, ev types.Event) (service.AdmissionDecision, error)
	Cancel(ctx context.Context, runID int64) (bool, error)
}

type RunReader interface {
	GetRun(ctx context.Context, runID int64) (*store.Run, error)
	ListActiveRuns(ctx context.Context, group string) ([]store.Run, error)
}

type RunServicer interface {
	RunTriggerer
	RunReader
}

type RunHandler struct {
	runService RunServicer
}

func NewRunHandler(runService RunServicer) *RunHandler {
	return &RunHandler{runService}
}

// PostEvent admits an inbound event. Admitted events answer 202 with the
// pending run, ignored events answer 204.
func (h *RunHandler) PostEvent(c echo.Context) error {
	ev := new(types.Event)
	if err := c.Bind(ev); err != nil {
		return newError(err, http.StatusBadRequest, "invalid event data")
	}

	decision, err := h.runService.Trigger(c.Request().Context(), *ev)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to admit event")
	}
	if !decision.Admitted {
		c.Logger().Debugf("event %s %s ignored: %s", ev.Kind, ev.Ref(), decision.Reason)
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusAccepted, decision)
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	r, err := h.runService.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run was not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run data")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *RunHandler) GetActiveRuns(c echo.Context) error {
	lrp := new(ListRunsParams)
	if err := c.Bind(lrp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run query")
	}

	runs, err := h.runService.ListActiveRuns(c.Request().Context(), lrp.Group)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusInternalServerError, "unable to list active runs")
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// PostCancelRun cancels a pending or running run. Cancelling a run that has
// already finished answers 409.
func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	cancelled, err := h.runService.Cancel(c.Request().Context(), rp.RunID)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to cancel run")
	}
	if cancelled {
		return c.NoContent(http.StatusNoContent)
	}

	if _, err := h.runService.GetRun(c.Request().Context(), rp.RunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run was not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run data")
	}
	return newError(nil, http.StatusConflict, "run has already finished")
}
