package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eser/ajan/httpfx"
	"github.com/eser/aicaller/pkg/api/adapters/appcontext"
	"github.com/eser/aicaller/pkg/api/business/jobs"
	"github.com/google/uuid"
)

func jobErrorResult(ctx *httpfx.Context, err error) httpfx.Result {
	switch {
	case errors.Is(err, jobs.ErrInvalidJob):
		return ctx.Results.Error(http.StatusBadRequest, []byte(err.Error()))
	case errors.Is(err, jobs.ErrJobStatusNotFound):
		return ctx.Results.Error(http.StatusNotFound, []byte(err.Error()))
	case errors.Is(err, jobs.ErrJobInProgress):
		return ctx.Results.Error(http.StatusConflict, []byte(err.Error()))
	default:
		return ctx.Results.Error(http.StatusInternalServerError, []byte(err.Error()))
	}
}

func dispatchJob(ctx *httpfx.Context, appContext *appcontext.AppContext, jobId string) httpfx.Result {
	var job jobs.Job

	err := json.NewDecoder(ctx.Request.Body).Decode(&job)
	if err != nil {
		return ctx.Results.Error(http.StatusBadRequest, []byte(err.Error()))
	}

	job.ID = jobId

	status, err := appContext.Jobs.DispatchJob(ctx.Request.Context(), job)
	if err != nil {
		return jobErrorResult(ctx, err)
	}

	return ctx.Results.Json(status)
}

func RegisterHttpRoutesForJobs( //nolint:funlen
	routes *httpfx.Router,
	appContext *appcontext.AppContext,
) {
	routes.
		Route(
			"POST /jobs",
			func(ctx *httpfx.Context) httpfx.Result {
				return dispatchJob(ctx, appContext, uuid.NewString())
			},
		).
		HasSummary("Dispatch job").
		HasDescription("Queue a job under a generated id and return its status.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"PUT /jobs/{id}",
			func(ctx *httpfx.Context) httpfx.Result {
				return dispatchJob(ctx, appContext, ctx.Request.PathValue("id"))
			},
		).
		HasSummary("Dispatch job with id").
		HasDescription("Queue a job under the given id and return its status.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /jobs/{id}",
			func(ctx *httpfx.Context) httpfx.Result {
				status, err := appContext.Jobs.GetJobStatus(ctx.Request.Context(), ctx.Request.PathValue("id"))
				if err != nil {
					return jobErrorResult(ctx, err)
				}

				return ctx.Results.Json(status)
			},
		).
		HasSummary("Get job status").
		HasDescription("Get the state, batch job id and output counts of a job.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /jobs",
			func(ctx *httpfx.Context) httpfx.Result {
				statuses, err := appContext.Jobs.ListJobStatuses(ctx.Request.Context())
				if err != nil {
					return jobErrorResult(ctx, err)
				}

				return ctx.Results.Json(statuses)
			},
		).
		HasSummary("List jobs").
		HasDescription("List the statuses of all known jobs, newest first.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"DELETE /jobs/{id}",
			func(ctx *httpfx.Context) httpfx.Result {
				err := appContext.Jobs.DeleteJobStatus(ctx.Request.Context(), ctx.Request.PathValue("id"))
				if err != nil {
					return jobErrorResult(ctx, err)
				}

				return ctx.Results.Ok()
			},
		).
		HasSummary("Delete job status").
		HasDescription("Forget a finished job. Its outputs are kept.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /resources",
			func(ctx *httpfx.Context) httpfx.Result {
				return ctx.Results.Json(appContext.Resources.ListResources())
			},
		).
		HasSummary("List resources").
		HasDescription("List the configured provider resources jobs can run against.").
		HasResponse(http.StatusOK)
}
