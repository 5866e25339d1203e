package rest

import (
	"log/slog"
	"net/http"
	"typerace/internal/cache"
	"typerace/internal/repository"
	"typerace/internal/service"
	"typerace/internal/transport/rest/handler"
	"typerace/internal/transport/rest/middleware"
	"typerace/internal/transport/ws"

	"github.com/gorilla/mux"
	"github.com/swaggo/swag"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService    *service.AuthService
	Registry       *service.RoomRegistry
	Matchmaker     *service.Matchmaker
	RaceCache      cache.RaceCache
	Leaderboard    cache.LeaderboardCache
	Participants   repository.ParticipantRepo
	WSHub          *ws.Hub
	WSHandler      *ws.Handler
	AllowedOrigins string
	Logger         *slog.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	raceHandler := handler.NewRaceHandler(c.Registry, c.RaceCache, c.Leaderboard, c.Participants, c.Logger)
	boardHandler := handler.NewLeaderboardHandler(c.Leaderboard, c.Participants, c.Logger)
	queueHandler := handler.NewQueueHandler(c.Matchmaker)
	healthHandler := handler.NewHealthHandler(c.WSHub, c.Registry)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.AllowedOrigins))

	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	r.HandleFunc("/swagger/doc.json", swaggerDoc).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// WebSocket (token in query param or Authorization header)
	v1.HandleFunc("/ws", c.WSHandler.ServeWS).Methods("GET")

	// Public routes
	v1.HandleFunc("/auth/guest", authHandler.Guest).Methods("POST", "OPTIONS")
	v1.HandleFunc("/races", raceHandler.Create).Methods("POST", "OPTIONS")
	v1.HandleFunc("/races/{raceId}", raceHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/races/{raceId}/results", raceHandler.Results).Methods("GET", "OPTIONS")
	v1.HandleFunc("/races/{raceId}/standings", raceHandler.Standings).Methods("GET", "OPTIONS")
	v1.HandleFunc("/lobby", raceHandler.Lobby).Methods("GET", "OPTIONS")
	v1.HandleFunc("/queue", queueHandler.Stats).Methods("GET", "OPTIONS")
	v1.HandleFunc("/leaderboard", boardHandler.Top).Methods("GET", "OPTIONS")
	v1.HandleFunc("/users/{userId}/history", boardHandler.History).Methods("GET", "OPTIONS")

	// User routes (require a user token)
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)
	userRoutes.HandleFunc("/auth/me", authHandler.Me).Methods("GET", "OPTIONS")

	return r
}

func swaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		http.Error(w, `{"error":"api docs not registered"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}

func corsMiddleware(allowedOrigins string) mux.MiddlewareFunc {
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
