// Package api exposes the workflow engine's logical operations as a thin
// JSON surface. Handlers only decode, delegate and map errors; all rules
// live in the workflow package.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/datastore"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/errors"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
	"github.com/rshstkv/foodtray-annotations-sub002/internal/workflow"
)

// Server serves the validation engine API.
type Server struct {
	engine *workflow.Engine
	echo   *echo.Echo
	log    *slog.Logger
}

// New builds the server and registers routes.
func New(engine *workflow.Engine) *Server {
	s := &Server{
		engine: engine,
		echo:   echo.New(),
		log:    logging.ForService("api"),
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks/next", s.leaseNext)
	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions/:id/view", s.sessionView)
	v1.POST("/sessions/:id/items", s.addItem)
	v1.POST("/sessions/:id/annotations", s.addAnnotation)
	v1.POST("/sessions/:id/resolve", s.resolveAmbiguity)
	v1.POST("/sessions/:id/complete", s.completeStage)
	v1.POST("/sessions/:id/skip", s.skipStage)
	v1.POST("/sessions/:id/reset", s.resetSession)
	v1.PATCH("/items/:id", s.mutateItem)
	v1.DELETE("/items/:id", s.deleteItem)
	v1.PATCH("/annotations/:id", s.mutateAnnotation)
	v1.DELETE("/annotations/:id", s.deleteAnnotation)
	v1.POST("/recognitions/:id/reset", s.resetRecognition)
	v1.POST("/recognitions/:id/correction", s.flagCorrection)

	return s
}

// Start serves until the listener fails or is shut down.
func (s *Server) Start(port string) error {
	return s.echo.Start(":" + port)
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// httpError maps the engine's error taxonomy onto status codes. Not-found is
// a normal outcome and never logged as a failure.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.IsNotFound(err):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.IsConflict(err):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.IsInvalidState(err):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.IsIntegrity(err):
		s.log.Error("integrity violation", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "data integrity violation"})
	default:
		var ee *errors.EnhancedError
		if errors.As(err, &ee) && ee.Category == errors.CategoryValidation {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.log.Error("request failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func (s *Server) leaseNext(c echo.Context) error {
	var req workflow.LeaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.engine.LeaseNext(req)
	if err != nil {
		if errors.IsNotFound(err) {
			// empty queue, not a fault
			return c.NoContent(http.StatusNoContent)
		}
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

type createSessionRequest struct {
	RecognitionID uint   `json:"recognition_id"`
	Assignee      string `json:"assignee"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	session, err := s.engine.CreateSession(req.RecognitionID, req.Assignee)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) sessionView(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	view, err := s.engine.View(id)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) mutateItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch workflow.ItemPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item, err := s.engine.MutateItem(id, patch)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) mutateAnnotation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch workflow.AnnotationPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	annotation, err := s.engine.MutateAnnotation(id, patch)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, annotation)
}

func (s *Server) deleteItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.SoftDeleteItem(id); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteAnnotation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.SoftDeleteAnnotation(id); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var item datastore.WorkItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := s.engine.AddItem(id, item)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) addAnnotation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var annotation datastore.WorkAnnotation
	if err := c.Bind(&annotation); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := s.engine.AddAnnotation(id, annotation)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

type resolveRequest struct {
	DishIndex   int               `json:"dish_index"`
	Label       string            `json:"label"`
	GroupLabels map[string]string `json:"group_labels,omitempty"`
}

func (s *Server) resolveAmbiguity(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := s.engine.ResolveAmbiguity(id, req.DishIndex, req.Label, req.GroupLabels)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) completeStage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := s.engine.CompleteStage(id)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) skipStage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := s.engine.SkipStage(id)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) resetSession(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.ResetSession(id); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resetRecognition(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.ResetRecognition(id); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) flagCorrection(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.FlagForCorrection(id); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
