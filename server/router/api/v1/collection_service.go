package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/fetch"
	"github.com/hrygo/rentflow/server/service/collection"
	"github.com/hrygo/rentflow/store/cache"
)

const dateLayout = "2006-01-02"

// CollectionResponse is a loaded collection. Error is set when Data is the
// last known good value served after a failed refresh.
type CollectionResponse struct {
	collection.View
	Error *ErrorResponse `json:"error,omitempty"`
}

// GetCollection reads a collection through the cache. A request superseded by
// a concurrent one for the same key answers with the winner's result.
// GET /api/v1/:kind?limit=&from=&to=&refresh=true
func (s *APIV1Service) GetCollection(c echo.Context) error {
	kind, ok := cache.ParseKind(c.Param("kind"))
	if !ok {
		return writeError(c, apperrors.NotFound("unknown collection "+c.Param("kind")))
	}
	params, err := collectionParams(c)
	if err != nil {
		return writeError(c, err)
	}

	opts := fetch.DefaultOptions()
	if refresh, _ := strconv.ParseBool(c.QueryParam("refresh")); refresh {
		opts.ForceRefresh = true
	}

	view, err := s.Loaders.Load(c.Request().Context(), kind, params, opts)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeBackend {
			if stale, ok := s.Loaders.Peek(kind, params); ok {
				resp := errorResponse(err)
				return c.JSON(http.StatusOK, CollectionResponse{View: stale, Error: &resp})
			}
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, CollectionResponse{View: view})
}

func collectionParams(c echo.Context) (cache.Params, error) {
	params := cache.Params{}
	if raw := c.QueryParam(cache.ParamLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, apperrors.Validation("limit must be a positive integer")
		}
		params[cache.ParamLimit] = strconv.Itoa(n)
	}
	for _, name := range []string{cache.ParamFrom, cache.ParamTo} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, apperrors.Validation(name + " must be a date formatted as YYYY-MM-DD")
		}
		params[name] = raw
	}
	return params, nil
}

// CreateClient creates a client.
// POST /api/v1/clients
func (s *APIV1Service) CreateClient(c echo.Context) error {
	req := &collection.CreateClientRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	client, err := s.Collections.CreateClient(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, client)
}

// CreateEquipment creates a piece of equipment.
// POST /api/v1/equipments
func (s *APIV1Service) CreateEquipment(c echo.Context) error {
	req := &collection.CreateEquipmentRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	equipment, err := s.Collections.CreateEquipment(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, equipment)
}
