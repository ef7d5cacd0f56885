package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/storage"
)

// **** Saved function request/response types ****

// FunctionRequest is the JSON body for POST/PUT /v1/functions.
type FunctionRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	FunctionName   string `json:"function_name,omitempty"`
	ParameterNames string `json:"parameter_names"`
	BodySource     string `json:"body_source"`
	ArgumentsText  string `json:"arguments_text"` // Default arguments for runs.
	Schedule       string `json:"schedule,omitempty"`
}

// FunctionResponse is the JSON response for saved function endpoints.
type FunctionResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	FunctionName   string    `json:"function_name,omitempty"`
	ParameterNames string    `json:"parameter_names"`
	BodySource     string    `json:"body_source"`
	ArgumentsText  string    `json:"arguments_text"`
	Schedule       string    `json:"schedule,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RunRequest is the optional JSON body for POST /v1/functions/{id}/run.
type RunRequest struct {
	ArgumentsText *string `json:"arguments_text,omitempty"` // Absent = saved defaults.
}

func toFunctionResponse(fn *domain.Function) FunctionResponse {
	return FunctionResponse{
		ID:             fn.ID.String(),
		Name:           fn.Name,
		Description:    fn.Description,
		FunctionName:   fn.FunctionName,
		ParameterNames: fn.ParameterNames,
		BodySource:     fn.BodySource,
		ArgumentsText:  fn.ArgumentsText,
		Schedule:       fn.Schedule,
		CreatedBy:      fn.CreatedBy,
		CreatedAt:      fn.CreatedAt,
		UpdatedAt:      fn.UpdatedAt,
	}
}

func (r FunctionRequest) executorRequest() executor.Request {
	return executor.Request{
		FunctionName:   r.FunctionName,
		ParameterNames: r.ParameterNames,
		BodySource:     r.BodySource,
		ArgumentsText:  r.ArgumentsText,
	}
}

func (g *Gateway) functionRoutes() {
	g.group.Post("/functions", g.handleFunctionCreate,
		okapi.DocSummary("Save a function definition"),
		okapi.DocTags("Functions"),
		okapi.DocRequestBody(FunctionRequest{}),
		okapi.DocResponse(http.StatusCreated, FunctionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/functions", g.handleFunctionList,
		okapi.DocSummary("List saved functions"),
		okapi.DocTags("Functions"),
		okapi.DocResponse([]FunctionResponse{}),
	)
	g.group.Get("/functions/{id}", g.handleFunctionGet,
		okapi.DocSummary("Get a saved function by ID"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID (UUID)"),
		okapi.DocResponse(FunctionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Put("/functions/{id}", g.handleFunctionUpdate,
		okapi.DocSummary("Update a saved function"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID (UUID)"),
		okapi.DocRequestBody(FunctionRequest{}),
		okapi.DocResponse(FunctionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/functions/{id}", g.handleFunctionDelete,
		okapi.DocSummary("Delete a saved function"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/functions/{id}/run", g.handleFunctionRun,
		okapi.DocSummary("Run a saved function"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID (UUID)"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(OutcomeBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
}

// **** Handlers ****

func (g *Gateway) handleFunctionCreate(c *okapi.Context) error {
	var req FunctionRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}
	if err := g.checkDefinition(req); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	fn := &domain.Function{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		FunctionName:   req.FunctionName,
		ParameterNames: req.ParameterNames,
		BodySource:     req.BodySource,
		ArgumentsText:  req.ArgumentsText,
		Schedule:       req.Schedule,
		CreatedBy:      c.GetString("userID"),
	}
	if err := g.functions.Create(c.Context(), fn); err != nil {
		return g.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, toFunctionResponse(fn))
}

func (g *Gateway) handleFunctionList(c *okapi.Context) error {
	q := c.Request().URL.Query()
	opts := storage.ListOptions{CreatedBy: q.Get("created_by")}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	opts.Scheduled, _ = strconv.ParseBool(q.Get("scheduled"))

	fns, err := g.functions.List(c.Context(), opts)
	if err != nil {
		return g.storeError(c, err)
	}
	resp := make([]FunctionResponse, len(fns))
	for i := range fns {
		resp[i] = toFunctionResponse(&fns[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleFunctionGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid function ID")
	}
	fn, err := g.functions.Get(c.Context(), id)
	if err != nil {
		return g.storeError(c, err)
	}
	return c.OK(toFunctionResponse(fn))
}

func (g *Gateway) handleFunctionUpdate(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid function ID")
	}
	var req FunctionRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}
	if err := g.checkDefinition(req); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	fn := &domain.Function{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		FunctionName:   req.FunctionName,
		ParameterNames: req.ParameterNames,
		BodySource:     req.BodySource,
		ArgumentsText:  req.ArgumentsText,
		Schedule:       req.Schedule,
	}
	if err := g.functions.Update(c.Context(), fn); err != nil {
		return g.storeError(c, err)
	}
	updated, err := g.functions.Get(c.Context(), id)
	if err != nil {
		return g.storeError(c, err)
	}
	return c.OK(toFunctionResponse(updated))
}

func (g *Gateway) handleFunctionDelete(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid function ID")
	}
	if err := g.functions.Delete(c.Context(), id); err != nil {
		return g.storeError(c, err)
	}
	return c.OK(map[string]string{"status": "deleted"})
}

func (g *Gateway) handleFunctionRun(c *okapi.Context) error {
	if ok, err := g.allow(c); !ok {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid function ID")
	}

	var req RunRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return bindError(c, err)
		}
	}

	fn, err := g.functions.Get(c.Context(), id)
	if err != nil {
		return g.storeError(c, err)
	}

	argsText := fn.ArgumentsText
	if req.ArgumentsText != nil {
		argsText = *req.ArgumentsText
	}
	out := g.exec.Execute(c.Context(), executor.Request{
		FunctionName:   fn.FunctionName,
		ParameterNames: fn.ParameterNames,
		BodySource:     fn.BodySource,
		ArgumentsText:  argsText,
	})
	return c.JSON(http.StatusOK, out)
}

// checkDefinition rejects definitions that could never be assembled, so a
// saved function only fails at run time for run-time reasons.
func (g *Gateway) checkDefinition(req FunctionRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.BodySource == "" {
		return errors.New("body_source is required")
	}
	if _, err := g.exec.Preview(req.executorRequest()); err != nil {
		return errors.New(domain.MessageOf(err))
	}
	return nil
}

// storeError maps storage errors to HTTP responses.
func (g *Gateway) storeError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "function not found"})
	case errors.Is(err, storage.ErrInvalidFunction):
		return c.AbortBadRequest(err.Error())
	default:
		g.logger.Error("function store failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("storage error")
	}
}
