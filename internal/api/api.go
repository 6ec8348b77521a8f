// Package api exposes a read-only HTTP view of the group hierarchy and the
// featured sets. All writes go through the CLI commands; the API never
// mutates state, so it can sit behind a shared cache.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
	"github.com/nexus-community/groups-cli/internal/ranking"
	"github.com/nexus-community/groups-cli/internal/store"
	"github.com/nexus-community/groups-cli/internal/tree"
)

// Server holds the engines the read endpoints delegate to.
type Server struct {
	store   store.GroupStore
	tree    *tree.Engine
	ranking *ranking.Engine
}

func NewServer(st store.GroupStore, tr *tree.Engine, rk *ranking.Engine) *Server {
	return &Server{store: st, tree: tr, ranking: rk}
}

// Router builds the chi router with request logging and permissive
// read-only CORS.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Get("/groups/{id}/ancestors", s.handleAncestors)
		r.Get("/groups/{id}/descendants", s.handleDescendants)
		r.Get("/groups/{id}/siblings", s.handleSiblings)
		r.Get("/leaves", s.handleLeaves)
		r.Get("/featured/{category}", s.handleFeatured)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAncestors(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	chain, err := s.tree.GetAncestors(r.Context(), tenant, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ancestors":  chain,
		"breadcrumb": tree.Breadcrumb(chain),
	})
}

func (s *Server) handleDescendants(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	maxDepth, _ := strconv.Atoi(r.URL.Query().Get("max_depth"))
	node, err := s.tree.GetDescendants(r.Context(), tenant, id, maxDepth)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleSiblings(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	includeSelf := r.URL.Query().Get("include_self") == "true"
	siblings, err := s.tree.GetSiblings(r.Context(), tenant, id, includeSelf)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"siblings": siblings})
}

func (s *Server) handleLeaves(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	kind := model.GroupKind(r.URL.Query().Get("kind"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	leaves, err := s.tree.GetLeafGroups(r.Context(), tenant, kind, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaves": leaves})
}

func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	category := chi.URLParam(r, "category")
	if category != ranking.CategoryLocalHubs && category != ranking.CategoryCommunity {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	featured, err := s.ranking.GetFeaturedGroupsWithScores(r.Context(), tenant, category)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	last, err := s.ranking.LastUpdateTime(r.Context(), tenant, category)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":     category,
		"featured":     featured,
		"last_updated": last,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
