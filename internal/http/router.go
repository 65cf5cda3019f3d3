package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrJamesThe3rd/finnysync/internal/http/actions"
	"github.com/MrJamesThe3rd/finnysync/internal/http/export"
	"github.com/MrJamesThe3rd/finnysync/internal/http/importcsv"
	"github.com/MrJamesThe3rd/finnysync/internal/http/matching"
	"github.com/MrJamesThe3rd/finnysync/internal/http/syncstatus"
)

func New(
	actionsV1 *actions.Handler,
	syncV1 *syncstatus.Handler,
	importV1 *importcsv.Handler,
	exportV1 *export.Handler,
	matchingV1 *matching.Handler,
	allowedOrigins []string,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			actionsV1.Routes(r)
		})

		r.Route("/sync", syncV1.Routes)
		r.Route("/import", importV1.Routes)
		r.Route("/export", exportV1.Routes)
		r.Route("/categories", matchingV1.Routes)
	})

	return router
}
