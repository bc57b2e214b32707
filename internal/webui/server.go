package webui

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/coreerr"
)

// Stats mirrors the notifyStats contract in §6.
type Stats struct {
	Processed       int     `json:"processed"`
	Total           int     `json:"total"`
	SpeedSecPerImage float64 `json:"speedSecPerImage"`
	EtaMillis       int64   `json:"etaMillis"`
	CurrentAction   string  `json:"currentAction"`
	Completed       bool    `json:"completed"`
}

// FreezeController is the subset of the Coordinator the control API
// drives.
type FreezeController interface {
	Freeze(clusterIndex int) error
	Unfreeze(clusterIndex int)
}

// Excluder is the subset of the Store the control API drives.
type Excluder interface {
	Exclude(path string) error
	Restore(path string) error
}

// Server is the HTTP presentation surface: an SSE stream of cluster
// renders plus a small JSON control API.
type Server struct {
	router      chi.Router
	broadcaster *Broadcaster
	coordinator FreezeController
	store       Excluder
}

// NewServer builds the chi router and wires routes.
func NewServer(coordinator FreezeController, store Excluder) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		broadcaster: NewBroadcaster(),
		coordinator: coordinator,
		store:       store,
	}
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", healthCheck)
	s.router.Get("/stream", s.handleStream)
	s.router.Post("/clusters/{id}/freeze", s.handleFreeze)
	s.router.Post("/clusters/{id}/unfreeze", s.handleUnfreeze)
	s.router.Post("/exclude", s.handleExclude)
	s.router.Post("/restore", s.handleRestore)

	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetCoordinator wires the Coordinator in after construction, breaking
// the construction-order cycle between Server (which the Coordinator
// needs as its Presentation) and the Coordinator (which Server needs for
// freeze/unfreeze control).
func (s *Server) SetCoordinator(c FreezeController) {
	s.coordinator = c
}

// Render implements coordinator.Presentation: publish a finished pass to
// every connected SSE client.
func (s *Server) Render(cs cluster.ClusterSet) {
	s.broadcaster.broadcast(clusterEvent{Type: "render", Data: toClusterSetDTO(cs)})
}

// NotifyStats implements the producer-side stats contract (§6).
func (s *Server) NotifyStats(stats Stats) {
	s.broadcaster.broadcast(clusterEvent{Type: "stats", Data: stats})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.addListener()
	defer s.broadcaster.removeListener(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, ev.Type, ev.Data)
		}
	}
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	id, err := clusterIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coordinator.Freeze(id); err != nil {
		respondError(w, statusForFreezeError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"frozen": true})
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	id, err := clusterIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.coordinator.Unfreeze(id)
	respondJSON(w, http.StatusOK, map[string]bool{"frozen": false})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.Exclude(req.Path); err != nil {
		respondError(w, statusForFreezeError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"excluded": true})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.Restore(req.Path); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"excluded": false})
}

func statusForFreezeError(err error) int {
	switch {
	case err == coreerr.ErrInsufficientMembers, err == coreerr.ErrFrozenRepresentative:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
