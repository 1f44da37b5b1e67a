package transport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/common/metrics"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

type handlers struct {
	svc    *admin.Service
	logger log.Logger
	now    func() time.Time
}

func (h *handlers) register(e *echo.Echo) {
	if h.now == nil {
		h.now = time.Now
	}
	e.GET("/healthz", h.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/v1")
	v1.POST("/check", h.check)
	v1.POST("/test", h.test)
	v1.POST("/events", h.event)

	v1.GET("/rules", h.listRules)
	v1.POST("/rules", h.addRule)
	v1.GET("/rules/:id", h.getRule)
	v1.DELETE("/rules/:id", h.deleteRule)
	v1.POST("/rules/:id/toggle", h.toggleRule)
	v1.PUT("/rules/:id/pattern", h.editPattern)
	v1.PUT("/rules/:id/reason", h.editReason)

	v1.GET("/cache", h.showCache)
	v1.DELETE("/cache/:name", h.deleteCache)

	v1.GET("/settings", h.listSettings)
	v1.GET("/settings/:name", h.getSetting)
	v1.PUT("/settings/:name", h.putSetting)
}

// mapError converts a service error into an echo.HTTPError.
func (h *handlers) mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, admin.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidPattern),
		errors.Is(err, checker.ErrEmptyDomain):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blocklist.ErrRuleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		h.logger.Error(map[string]any{"error": err}, "request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func badRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func ruleID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, badRequest("invalid id (not an integer)")
	}
	return id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name + " (not an integer >= 0)")
	}
	return n, nil
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) check(c echo.Context) error {
	var req targetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	v, err := h.svc.Check(c.Request().Context(), req.Target)
	if err != nil && !errors.Is(err, checker.ErrHitRecord) {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toVerdictJSON(req.Target, v, h.now()))
}

// test runs the diagnostic check, against one pattern when the body names one.
func (h *handlers) test(c echo.Context) error {
	var req targetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	var (
		v   domain.Verdict
		err error
	)
	if req.Pattern != "" {
		v, err = h.svc.TestPattern(c.Request().Context(), req.Pattern, req.Target)
	} else {
		v, err = h.svc.Test(c.Request().Context(), req.Target)
	}
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toVerdictJSON(req.Target, v, h.now()))
}

func (h *handlers) event(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	kind, err := domain.ParseEventKind(req.Kind)
	if err != nil {
		return badRequest(err.Error())
	}
	results, err := h.svc.HandleEvent(c.Request().Context(), domain.RegistrationEvent{
		Kind:    kind,
		Account: req.Account,
		Email:   req.Email,
	})
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toEventResultsJSON(results, h.now()))
}

func (h *handlers) listRules(c echo.Context) error {
	ctx := c.Request().Context()
	if q := c.QueryParam("q"); q != "" {
		rules, err := h.svc.Search(ctx, q)
		if err != nil {
			return h.mapError(err)
		}
		return c.JSON(http.StatusOK, toRulesJSON(rules, h.now()))
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	rules, err := h.svc.List(ctx, limit, offset)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRulesJSON(rules, h.now()))
}

func (h *handlers) addRule(c echo.Context) error {
	var req addRuleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	r, err := h.svc.Add(c.Request().Context(), req.Pattern, req.Reason, req.AddedBy)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusCreated, toRuleJSON(r, h.now()))
}

func (h *handlers) getRule(c echo.Context) error {
	id, err := ruleID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRuleJSON(r, h.now()))
}

func (h *handlers) deleteRule(c echo.Context) error {
	id, err := ruleID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRuleJSON(r, h.now()))
}

func (h *handlers) toggleRule(c echo.Context) error {
	id, err := ruleID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Toggle(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRuleJSON(r, h.now()))
}

func (h *handlers) editPattern(c echo.Context) error {
	id, err := ruleID(c)
	if err != nil {
		return err
	}
	var req patternRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	r, err := h.svc.EditPattern(c.Request().Context(), id, req.Pattern)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRuleJSON(r, h.now()))
}

func (h *handlers) editReason(c echo.Context) error {
	id, err := ruleID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	r, err := h.svc.EditReason(c.Request().Context(), id, req.Reason)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toRuleJSON(r, h.now()))
}

func (h *handlers) showCache(c echo.Context) error {
	return c.JSON(http.StatusOK, toCacheJSON(h.svc.CacheShow(), h.svc.CacheStats()))
}

func (h *handlers) deleteCache(c echo.Context) error {
	name := c.Param("name")
	if !h.svc.CacheDelete(name) {
		return echo.NewHTTPError(http.StatusNotFound, name+" not cached")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Settings().All())
}

func (h *handlers) getSetting(c echo.Context) error {
	name := c.Param("name")
	v, ok := h.svc.Setting(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown setting "+name)
	}
	return c.JSON(http.StatusOK, settingJSON{Name: name, Value: v})
}

func (h *handlers) putSetting(c echo.Context) error {
	name := c.Param("name")
	var req settingJSON
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	if err := h.svc.SetSetting(c.Request().Context(), name, req.Value); err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, settingJSON{Name: name, Value: req.Value})
}
