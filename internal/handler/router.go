package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/esp1745/voicerag/internal/handler/chat"
	"github.com/esp1745/voicerag/internal/handler/document"
	"github.com/esp1745/voicerag/internal/handler/voice"
	middlewarePkg "github.com/esp1745/voicerag/internal/middleware"
	conversationService "github.com/esp1745/voicerag/internal/service/conversation"
	"github.com/esp1745/voicerag/internal/service/orchestrator"
	retrievalService "github.com/esp1745/voicerag/internal/service/retrieval"
	"github.com/esp1745/voicerag/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(turns *orchestrator.Service, convSvc *conversationService.Service, retrievalSvc *retrievalService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(turns, convSvc)
	voiceHandler := voice.New(turns)

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", handleHealth)

		chatHandler.RegisterRoutes(api)

		// Document routes need a working retrieval stack.
		if retrievalSvc != nil {
			documentHandler := document.New(retrievalSvc)
			documentHandler.RegisterRoutes(api)
		}

		api.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			handleStats(w, r, convSvc, retrievalSvc)
		})
	})

	voiceHandler.RegisterRoutes(r)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func handleStats(w http.ResponseWriter, r *http.Request, convSvc *conversationService.Service, retrievalSvc *retrievalService.Service) {
	stats := map[string]any{}

	if convSvc != nil {
		summaries, err := convSvc.List(r.Context())
		if err == nil {
			stats["conversations"] = len(summaries)
		}
	}

	if retrievalSvc != nil {
		indexStats, err := retrievalSvc.Stats(r.Context())
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "failed to read index stats")
			return
		}
		stats["index"] = indexStats
	}

	utils.RespondJSON(w, http.StatusOK, stats)
}
