package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sandrun/internal/codegen"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
)

// OutcomeBody documents the execution response. The live response is the
// domain.Outcome wire form.
type OutcomeBody struct {
	Status     string   `json:"status"` // "success" or "error"
	Value      any      `json:"value,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Message    string   `json:"message,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
}

// PreviewResponse is the JSON response for POST /v1/preview.
type PreviewResponse struct {
	Unit string `json:"unit"`
}

// CodegenRequest is the JSON body for POST /v1/codegen.
type CodegenRequest struct {
	Prompt         string `json:"prompt"`
	FunctionName   string `json:"function_name,omitempty"`
	ParameterNames string `json:"parameter_names"`
}

// CodegenResponse is the JSON response for POST /v1/codegen.
type CodegenResponse struct {
	Body     string `json:"body"`
	Provider string `json:"provider"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	if ok, err := g.allow(c); !ok {
		return err
	}

	var req executor.Request
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}

	// The request context ends when the client disconnects, which cancels
	// the execution.
	out := g.exec.Execute(c.Context(), req)
	return c.JSON(http.StatusOK, out)
}

func (g *Gateway) handlePreview(c *okapi.Context) error {
	var req executor.Request
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}
	unit, err := g.exec.Preview(req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.FailureFrom(err))
	}
	return c.OK(PreviewResponse{Unit: unit})
}

func (g *Gateway) handleCodegen(c *okapi.Context) error {
	if g.codegen == nil {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "code generation is disabled"})
	}
	if ok, err := g.allow(c); !ok {
		return err
	}

	var req CodegenRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}

	res, err := g.codegen.Generate(c.Context(), codegen.Request{
		Prompt:         req.Prompt,
		FunctionName:   req.FunctionName,
		ParameterNames: req.ParameterNames,
	})
	switch {
	case err == nil:
		return c.OK(CodegenResponse{Body: res.Body, Provider: res.Provider})
	case errors.Is(err, codegen.ErrEmptyPrompt):
		return c.AbortBadRequest("prompt is required")
	case errors.Is(err, codegen.ErrInvalidBody):
		return c.JSON(http.StatusUnprocessableEntity, ErrorBody{Error: err.Error()})
	default:
		g.logger.Error("code generation failed",
			slog.String("user_id", c.GetString("userID")),
			slog.String("error", err.Error()),
		)
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: "code generation failed"})
	}
}
