package http

import (
	"context"

	"github.com/eser/ajan/httpfx"
	"github.com/eser/ajan/httpfx/middlewares"
	"github.com/eser/ajan/httpfx/modules/healthcheck"
	"github.com/eser/ajan/httpfx/modules/openapi"
	"github.com/eser/ajan/httpfx/modules/profiling"
	"github.com/eser/aicaller/pkg/api/adapters/appcontext"
)

// Run serves the job API until ctx ends. The returned func stops the server.
func Run(ctx context.Context, appContext *appcontext.AppContext) (func(), error) {
	routes := httpfx.NewRouter("/")
	httpService := httpfx.NewHttpService(
		&appContext.Config.Http,
		routes,
		appContext.Metrics,
		appContext.Logger,
	)

	for _, middleware := range []httpfx.Handler{
		middlewares.ErrorHandlerMiddleware(),
		middlewares.ResolveAddressMiddleware(),
		middlewares.ResponseTimeMiddleware(),
		middlewares.CorrelationIdMiddleware(),
		middlewares.CorsMiddleware(),
		middlewares.MetricsMiddleware(httpService.InnerMetrics),
	} {
		routes.Use(middleware)
	}

	healthcheck.RegisterHttpRoutes(routes, &appContext.Config.Http)
	openapi.RegisterHttpRoutes(routes, &appContext.Config.Http)
	profiling.RegisterHttpRoutes(routes, &appContext.Config.Http)

	RegisterHttpRoutesForJobs(routes, appContext) //nolint:contextcheck

	return httpService.Start(ctx)
}
