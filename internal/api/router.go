package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route under /api. A non-empty jwtSecret protects all
// routes except health.
func NewRouter(apiHandler *APIHandler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			if jwtSecret != "" {
				r.Use(JWTAuthMiddleware(jwtSecret))
			}

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", apiHandler.ListChatsHandler)
				r.Post("/", apiHandler.CreateChatHandler)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", apiHandler.GetChatHandler)
					r.Patch("/", apiHandler.UpdateChatHandler)
					r.Delete("/", apiHandler.DeleteChatHandler)
					r.Get("/messages", apiHandler.ListMessagesHandler)
					r.Post("/messages", apiHandler.PostMessageHandler)
					r.Post("/upload", apiHandler.UploadFilesHandler)
					r.Get("/files", apiHandler.ListFilesHandler)
				})
			})

			r.Get("/files/{fileID}", apiHandler.GetFileHandler)
			r.Delete("/files/{fileID}", apiHandler.DeleteFileHandler)

			r.Post("/notes", apiHandler.GenerateNotesHandler)
			r.Post("/quiz", apiHandler.GenerateQuizHandler)
		})
	})

	return r
}
