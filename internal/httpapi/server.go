package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/SLRio/Railway3/internal/filter"
	"github.com/SLRio/Railway3/internal/latest"
	"github.com/SLRio/Railway3/internal/layout"
	"github.com/SLRio/Railway3/internal/middleware"
	"github.com/SLRio/Railway3/internal/observability"
	"github.com/SLRio/Railway3/internal/realtime"
	"github.com/SLRio/Railway3/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const maxBodyBytes = 1 << 20

type LatestReader interface {
	Get(ctx context.Context, topic string) (latest.Reading, bool, error)
}

type Options struct {
	Filters *filter.Translator
	Layout  layout.Adapter
	// Hub, Latest and Auth are optional.
	Hub         *realtime.Hub
	Latest      LatestReader
	Auth        func(http.Handler) http.Handler
	StaticDir   string
	CORSOrigins []string
	Tracer      oteltrace.Tracer
}

type Server struct {
	repo     *store.Repo
	filters  *filter.Translator
	layout   layout.Adapter
	fallback layout.Adapter
	hub      *realtime.Hub
	latest   LatestReader
	opts     Options
}

func New(repo *store.Repo, opts Options) *Server {
	tagged, _ := layout.New(layout.Tagged, nil)
	if opts.Filters == nil {
		opts.Filters = &filter.Translator{}
	}
	if opts.Layout == nil {
		opts.Layout = tagged
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Server{
		repo:     repo,
		filters:  opts.Filters,
		layout:   opts.Layout,
		fallback: tagged,
		hub:      opts.Hub,
		latest:   opts.Latest,
		opts:     opts,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Next-Cursor"},
		MaxAge:         300,
	}))
	r.Use(observability.Middleware(s.opts.Tracer))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	r.Route("/data", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/latest", s.handleLatest)
		r.Get("/{id}", s.handleGet)

		r.Group(func(r chi.Router) {
			if s.opts.Auth != nil {
				r.Use(s.opts.Auth)
			}
			r.Post("/", s.handleCreate)
			r.Put("/{id}", s.handleUpdate)
			r.Delete("/all", s.handleDeleteAll)
			r.Delete("/{id}", s.handleDelete)
		})
	})

	if dir := strings.TrimSpace(s.opts.StaticDir); dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.Error("health db ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := s.filters.Parse(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOptions(q.Get("order"), q.Get("limit"), q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.repo.Find(r.Context(), f, opts)
	if err != nil {
		slog.Error("list records failed", "filter", f.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if page.NextCursor != "" {
		w.Header().Set("X-Next-Cursor", page.NextCursor)
	}
	writeJSON(w, http.StatusOK, layout.EncodeAll(s.layout, page.Records))
}

func parseListOptions(order, limit, cursor string) (store.ListOptions, error) {
	var opts store.ListOptions
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "":
		return opts, nil
	case "asc":
		opts.Order = store.Asc
	case "desc":
		opts.Order = store.Desc
	default:
		return opts, errors.New("order must be asc or desc")
	}
	if v := strings.TrimSpace(limit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = n
	}
	c, err := store.DecodeCursor(cursor)
	if err != nil {
		return opts, errors.New("invalid cursor")
	}
	opts.Cursor = c
	return opts, nil
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if s.latest == nil {
		writeError(w, http.StatusNotFound, "No reading cached.")
		return
	}
	reading, ok, err := s.latest.Get(r.Context(), topic)
	if err != nil {
		slog.Error("latest reading lookup failed", "topic", topic, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "No reading cached.")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Record not found.")
		return
	}
	rec, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get record", err)
		return
	}
	s.writeRecord(w, http.StatusOK, *rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := s.layout.DecodeCreate(body)
	if err != nil {
		s.writeStoreError(w, "decode record", err)
		return
	}
	rec := &store.Record{Value: in.Value, Date: in.Date, Topic: in.Topic}
	if err := s.repo.Create(r.Context(), rec); err != nil {
		s.writeStoreError(w, "create record", err)
		return
	}
	s.hub.Broadcast(realtime.RecordEvent(realtime.RecordCreated, *rec))
	s.writeRecord(w, http.StatusCreated, *rec)
}

// handleUpdate passes the body through as a full replace. Missing fields are
// left for the store to reject.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Record not found.")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := s.layout.DecodeUpdate(body)
	if err != nil {
		s.writeStoreError(w, "decode record", err)
		return
	}
	rec, err := s.repo.UpdateByID(r.Context(), id, in)
	if err != nil {
		s.writeStoreError(w, "update record", err)
		return
	}
	s.hub.Broadcast(realtime.RecordEvent(realtime.RecordUpdated, *rec))
	s.writeRecord(w, http.StatusOK, *rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Record not found.")
		return
	}
	rec, err := s.repo.DeleteByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "delete record", err)
		return
	}
	observability.RecordsDeleted.WithLabelValues("api").Inc()
	s.hub.Broadcast(realtime.RecordEvent(realtime.RecordDeleted, *rec))
	s.writeRecord(w, http.StatusOK, *rec)
}

type deleteAllResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	f, err := s.filters.Parse(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.deleteMany(r.Context(), f)
	if err != nil {
		slog.Error("delete records failed", "filter", f.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "Server error while deleting records.")
		return
	}
	slog.Info("records deleted", "filter", f.String(), "deleted", n, "by", middleware.Subject(r))
	observability.RecordsDeleted.WithLabelValues("api").Add(float64(n))
	s.hub.Broadcast(realtime.Event{Type: realtime.RecordsDeleted, Topic: f.Topic, Deleted: n})
	writeJSON(w, http.StatusOK, deleteAllResponse{Message: "All records deleted successfully.", Deleted: n})
}

// deleteMany keeps bulk delete in step with listing: when the layout hides
// some topics, an unscoped delete only removes the visible ones.
func (s *Server) deleteMany(ctx context.Context, f filter.Filter) (int64, error) {
	topics := s.layout.Topics()
	if !f.IsNone() || topics == nil {
		return s.repo.DeleteMany(ctx, f)
	}
	var total int64
	for _, t := range topics {
		n, err := s.repo.DeleteMany(ctx, filter.Topic(t))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Server) writeRecord(w http.ResponseWriter, status int, rec store.Record) {
	view, ok := s.layout.Encode(rec)
	if !ok {
		// The wide layout has no slot for this topic; fall back to the
		// canonical shape rather than hiding the write.
		view, _ = s.fallback.Encode(rec)
	}
	writeJSON(w, status, view)
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Record not found.")
	default:
		slog.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

// parseID reports false for anything that is not a UUID; such ids can never
// resolve.
func parseID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// readBody returns the request body as JSON. Form posts from the plain HTML
// pages are converted to a flat JSON object.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form body")
		}
		obj := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			obj[k] = r.PostForm.Get(k)
		}
		return json.Marshal(obj)
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	return b, nil
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}
