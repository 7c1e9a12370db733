package v1

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/scheduler/recurrence"
	"github.com/hrygo/rentflow/server/service/contract"
	"github.com/hrygo/rentflow/store"
)

func contractID(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("invalid contract id " + strconv.Quote(c.Param("id")))
	}
	return int32(id), nil
}

// parseDate accepts a calendar date (YYYY-MM-DD, UTC) or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Validation("invalid date " + strconv.Quote(raw))
	}
	return t.UTC(), nil
}

// CreateContract creates a one-off or recurring contract.
// POST /api/v1/contracts
func (s *APIV1Service) CreateContract(c echo.Context) error {
	req := &contract.CreateRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	created, err := s.Scheduler.Create(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// GetContract returns one contract.
// GET /api/v1/contracts/:id
func (s *APIV1Service) GetContract(c echo.Context) error {
	id, err := contractID(c)
	if err != nil {
		return writeError(c, err)
	}
	found, err := s.Scheduler.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, found)
}

// UpdateRecurrence edits the rule of a live recurring contract.
// PATCH /api/v1/contracts/:id/recurrence
func (s *APIV1Service) UpdateRecurrence(c echo.Context) error {
	id, err := contractID(c)
	if err != nil {
		return writeError(c, err)
	}
	req := &contract.UpdateRecurrenceRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	updated, err := s.Scheduler.UpdateRecurrence(c.Request().Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// PauseContract suspends an active contract.
// POST /api/v1/contracts/:id/pause
func (s *APIV1Service) PauseContract(c echo.Context) error {
	return s.transition(c, s.Scheduler.Pause)
}

// ResumeContract reactivates a paused contract.
// POST /api/v1/contracts/:id/resume
func (s *APIV1Service) ResumeContract(c echo.Context) error {
	return s.transition(c, s.Scheduler.Resume)
}

// CancelContract ends an active or paused contract.
// POST /api/v1/contracts/:id/cancel
func (s *APIV1Service) CancelContract(c echo.Context) error {
	return s.transition(c, s.Scheduler.Cancel)
}

func (s *APIV1Service) transition(c echo.Context, apply func(context.Context, int32) (*store.Contract, error)) error {
	id, err := contractID(c)
	if err != nil {
		return writeError(c, err)
	}
	updated, err := apply(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ListOccurrences lists the period starts of a recurring contract in [from, to).
// GET /api/v1/contracts/:id/occurrences?from=&to=&limit=
func (s *APIV1Service) ListOccurrences(c echo.Context) error {
	id, err := contractID(c)
	if err != nil {
		return writeError(c, err)
	}

	var from, to time.Time
	if raw := c.QueryParam("from"); raw != "" {
		if from, err = parseDate(raw); err != nil {
			return writeError(c, err)
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = parseDate(raw); err != nil {
			return writeError(c, err)
		}
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
	}

	occurrences, err := s.Scheduler.Occurrences(c.Request().Context(), id, from, to, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, occurrences)
}

// ComputeScheduleRequest is the payload of POST /api/v1/schedule/compute.
type ComputeScheduleRequest struct {
	Start    string `json:"start"`
	Unit     string `json:"unit"`
	Interval int    `json:"interval"`
}

// ComputeScheduleResponse carries the derived dates. A clamped interval is
// reported through Error alongside the clamped schedule.
type ComputeScheduleResponse struct {
	recurrence.Schedule
	Error *ErrorResponse `json:"error,omitempty"`
}

// ComputeSchedule derives end and renewal dates without storing anything.
// POST /api/v1/schedule/compute
func (s *APIV1Service) ComputeSchedule(c echo.Context) error {
	req := &ComputeScheduleRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	start, err := parseDate(req.Start)
	if err != nil {
		return writeError(c, err)
	}
	unit, err := recurrence.ParseUnit(req.Unit)
	if err != nil {
		return writeError(c, err)
	}

	schedule, err := recurrence.ComputeSchedule(start, unit, req.Interval)
	if err != nil {
		if schedule.EndDate.IsZero() {
			return writeError(c, err)
		}
		resp := errorResponse(err)
		return c.JSON(httpStatus(err), ComputeScheduleResponse{Schedule: schedule, Error: &resp})
	}
	return c.JSON(http.StatusOK, ComputeScheduleResponse{Schedule: schedule})
}
