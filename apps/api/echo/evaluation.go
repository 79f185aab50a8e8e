package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core/evaluation"
)

type evaluationApi struct {
	svc evaluation.Service
}

func registerEvaluationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc evaluation.Service) {
	api := evaluationApi{svc: svc}

	eg := g.Group("/evaluations", jwt)
	eg.POST("", api.submit, studentMiddleware())
}

// submit records the caller's evaluation of a target group. The evaluator is
// always the authenticated user; it is never read from the payload.
func (api *evaluationApi) submit(ctx echo.Context) error {
	var data evaluation.NewEvaluation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvaluation")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	data.EvaluatorID = claims.Subject

	res, err := api.svc.Submit(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting evaluation")
	}
	return ctx.JSON(http.StatusCreated, res)
}
