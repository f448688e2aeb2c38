package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gammadia/standby/catalog"
	"github.com/gammadia/standby/lifecycle"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager is the part of lifecycle.Manager exposed over HTTP.
type Manager interface {
	List() []lifecycle.Metadata
	Metadata(id string) (lifecycle.Metadata, error)
	Register(config lifecycle.NodeConfig) (lifecycle.Node, error)
	Provision(ctx context.Context, id string) (lifecycle.Endpoint, error)
	Terminate(ctx context.Context, id string) error
}

// *lifecycle.Manager implements Manager
var _ Manager = (*lifecycle.Manager)(nil)

type Config struct {
	Logger  *slog.Logger
	Version string
	Commit  string
	// Persist is called with every node registered through the API before
	// it is handed to the manager. Optional.
	Persist func(ctx context.Context, config lifecycle.NodeConfig) error
}

type Ping struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type server struct {
	manager Manager
	config  Config
	log     *slog.Logger
}

// NewHandler serves the admin API and the Prometheus metrics of the process.
func NewHandler(manager Manager, config Config) http.Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &server{manager: manager, config: config, log: config.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ping", s.ping)
	mux.HandleFunc("GET /v1/nodes", s.listNodes)
	mux.HandleFunc("POST /v1/nodes", s.registerNode)
	mux.HandleFunc("GET /v1/nodes/{id}", s.getNode)
	mux.HandleFunc("POST /v1/nodes/{id}/provision", s.provisionNode)
	mux.HandleFunc("POST /v1/nodes/{id}/terminate", s.terminateNode)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) ping(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, Ping{Version: s.config.Version, Commit: s.config.Commit})
}

func (s *server) listNodes(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, s.manager.List())
}

func (s *server) getNode(w http.ResponseWriter, r *http.Request) {
	metadata, err := s.manager.Metadata(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, metadata)
}

func (s *server) registerNode(w http.ResponseWriter, r *http.Request) {
	var spec catalog.NodeSpec
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&spec); err != nil {
		s.fail(w, r, fmt.Errorf("%w: failed to decode node spec: %w", lifecycle.ErrInvalidConfig, err))
		return
	}

	config, err := spec.NodeConfig()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Checked upfront so that a duplicate never reaches the persistent catalog
	if _, err := s.manager.Metadata(config.ID); err == nil {
		s.fail(w, r, fmt.Errorf("%w: '%s'", lifecycle.ErrNodeExists, config.ID))
		return
	}

	if s.config.Persist != nil {
		if err := s.config.Persist(r.Context(), config); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if _, err := s.manager.Register(config); err != nil {
		s.fail(w, r, err)
		return
	}

	metadata, err := s.manager.Metadata(config.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, http.StatusCreated, metadata)
}

func (s *server) provisionNode(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.manager.Provision(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, endpoint)
}

func (s *server) terminateNode(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Terminate(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := lifecycle.KindOf(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.reply(w, status, Error{Message: err.Error(), Kind: kind})
}
