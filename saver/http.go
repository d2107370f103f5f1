package saver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/horosafe"
	"github.com/hazyhaar/pagesaver/internal/store"
	"github.com/hazyhaar/pagesaver/kit"
	"github.com/hazyhaar/pagesaver/shield"
)

// HTTPOptions tunes Handler.
type HTTPOptions struct {
	// FilesRoot, when set, is served read-only under /files/.
	FilesRoot string
	// RateLimit is POST requests per client IP per minute; 0 disables.
	RateLimit int
	// AllowPrivate skips the private-network URL check.
	AllowPrivate bool
}

// Handler returns the REST API:
//
//	GET  /health
//	POST /api/visible   {"url", "name"}
//	POST /api/fullpage  {"url", "name"}
//	POST /api/area      {"url", "rect": {"left","top","width","height"}}
//	POST /api/images    {"url", "min_size", "include_img", "include_background"}
//	POST /api/archive   {"url", "prefix", "max_pages", "markdown"}
//	GET  /api/history?kind=&limit=
//	GET  /api/last
//	GET  /files/*
func (s *Saver) Handler(o HTTPOptions) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(shield.StackConfig{RateLimit: o.RateLimit, Logger: s.log}) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	check := func(url string) error {
		if o.AllowPrivate {
			return nil
		}
		return horosafe.ValidateURL(url)
	}

	r.Route("/api", func(r chi.Router) {
		if !o.AllowPrivate {
			r.Use(publicOnly)
		}
		r.Post("/visible", postCapture(s, "visible", check, s.Visible))
		r.Post("/fullpage", postCapture(s, "fullpage", check, s.FullPage))

		r.Post("/area", func(w http.ResponseWriter, r *http.Request) {
			var req AreaRequest
			if !decode(w, r, &req, check) {
				return
			}
			if req.Rect == nil {
				writeError(w, http.StatusBadRequest, errors.New("rect is required"))
				return
			}
			ep := s.endpoint("area", func(ctx context.Context, _ any) (any, error) { return s.Area(ctx, req) })
			respond(w, r, ep, &req)
		})

		r.Post("/images", func(w http.ResponseWriter, r *http.Request) {
			var req ImagesRequest
			if !decode(w, r, &req, check) {
				return
			}
			ep := s.endpoint("images", func(ctx context.Context, _ any) (any, error) { return s.Images(ctx, req) })
			respond(w, r, ep, &req)
		})

		r.Post("/archive", func(w http.ResponseWriter, r *http.Request) {
			var req ArchiveRequest
			if !decode(w, r, &req, check) {
				return
			}
			ep := s.endpoint("archive", func(ctx context.Context, _ any) (any, error) { return s.Archive(ctx, req) })
			respond(w, r, ep, &req)
		})

		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			runs, err := s.History(r.Context(), r.URL.Query().Get("kind"), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if runs == nil {
				runs = []*store.Run{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
		})

		r.Get("/last", func(w http.ResponseWriter, r *http.Request) {
			run, err := s.Last(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
	})

	if o.FilesRoot != "" {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(o.FilesRoot)))
		r.With(shield.SecurityHeaders(shield.FilesPolicy)).Get("/files/*", files.ServeHTTP)
	}
	return r
}

// publicOnly marks the request context so downloads and crawls started for
// it cannot reach private addresses, whatever the links or redirects say.
func publicOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(horosafe.PublicOnly(r.Context())))
	})
}

func (s *Saver) endpoint(op string, ep kit.Endpoint) kit.Endpoint {
	return s.middleware(s.log, op)(ep)
}

func postCapture(s *Saver, op string, check func(string) error,
	fn func(context.Context, CaptureRequest) (*CaptureOutcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaptureRequest
		if !decode(w, r, &req, check) {
			return
		}
		ep := s.endpoint(op, func(ctx context.Context, _ any) (any, error) { return fn(ctx, req) })
		respond(w, r, ep, &req)
	}
}

// targeted is a request naming the page it operates on.
type targeted interface{ target() string }

func (r CaptureRequest) target() string { return r.URL }
func (r AreaRequest) target() string    { return r.URL }
func (r ImagesRequest) target() string  { return r.URL }
func (r ArchiveRequest) target() string { return r.URL }

// decode reads a JSON body into req (a pointer) and validates its URL.
func decode(w http.ResponseWriter, r *http.Request, req targeted, check func(string) error) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	url := req.target()
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return false
	}
	if err := check(url); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// respond runs ep on the decoded request and writes the outcome. A failed operation still returns
// its outcome (with the status line) next to the error.
func respond(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(r.Context(), req)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("saver: request failed", "error", err)
		body := map[string]any{"error": err.Error()}
		if resp != nil {
			body["outcome"] = resp
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoHistory), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, capture.ErrProbe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrCapture), errors.Is(err, capture.ErrStitch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
