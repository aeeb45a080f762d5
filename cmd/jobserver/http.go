package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/auth"
	"github.com/nixpig/jobsearch/internal/taskmanager"
)

const maxRequestBody = 64 << 10

type roleKey struct{}

type startResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type httpAPI struct {
	manager *taskmanager.Manager
	tokens  *auth.Tokens
	logger  *slog.Logger
}

// newHTTPHandler serves the task API over HTTP. Every route except /health
// requires a bearer token whose role grants the route's permission.
func newHTTPHandler(
	manager *taskmanager.Manager,
	tokens *auth.Tokens,
	logger *slog.Logger,
) http.Handler {
	h := &httpAPI{manager: manager, tokens: tokens, logger: logger}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.With(requirePermission(auth.PermissionTaskStart)).Post("/tasks", h.startTask)
		r.With(requirePermission(auth.PermissionTaskQuery)).Get("/tasks/{id}", h.queryTask)
		r.With(requirePermission(auth.PermissionTaskRemove)).Delete("/tasks/{id}", h.removeTask)
	})

	return r
}

func (h *httpAPI) health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, messageResponse{Status: "healthy", Message: "ok"})
}

func (h *httpAPI) startTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.respondError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req api.StartRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.manager.StartTask(r.Context(), taskmanager.Input{
		CVPath:    req.CVPath,
		Companies: req.Companies,
	})
	if err != nil {
		h.mapError(w, r, "start task", err)
		return
	}

	h.respond(w, r, http.StatusAccepted, startResponse{
		TaskID:  id,
		Status:  "started",
		Message: "Job search started",
	})
}

func (h *httpAPI) queryTask(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.QueryTask(chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, r, "query task", err)
		return
	}

	h.respond(w, r, http.StatusOK, toAPIStatus(status))
}

func (h *httpAPI) removeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.manager.RemoveTask(id); err != nil {
		h.mapError(w, r, "remove task", err)
		return
	}

	h.respond(w, r, http.StatusOK, messageResponse{
		Status:  "cleaned",
		Message: fmt.Sprintf("Task %s cleaned", id),
	})
}

func (h *httpAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			h.respondError(w, r, http.StatusUnauthorized, "not authenticated")
			return
		}

		claims, err := h.tokens.Verify(token)
		if err != nil {
			h.logger.WarnContext(r.Context(), "verify token", "err", err)

			msg := "not authenticated"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token expired"
			}

			h.respondError(w, r, http.StatusUnauthorized, msg)
			return
		}

		ctx := context.WithValue(r.Context(), roleKey{}, claims.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requirePermission(p auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(roleKey{}).(auth.Role)

			if err := auth.HasPermission(role, p); err != nil {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: "not authorised"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (h *httpAPI) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.DebugContext(
			r.Context(),
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// mapError translates taskmanager errors to HTTP responses.
func (h *httpAPI) mapError(
	w http.ResponseWriter,
	r *http.Request,
	logMsg string,
	err error,
) {
	switch {
	case errors.Is(err, taskmanager.ErrTaskNotFound):
		h.respondError(w, r, http.StatusNotFound, err.Error())

	case errors.Is(err, taskmanager.ErrInvalidInput):
		h.respondError(w, r, http.StatusBadRequest, err.Error())

	default:
		h.logger.ErrorContext(r.Context(), logMsg, "err", err)
		h.respondError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (h *httpAPI) respond(w http.ResponseWriter, r *http.Request, code int, v any) {
	if err := writeJSON(w, code, v); err != nil {
		h.logger.WarnContext(r.Context(), "write response", "err", err)
	}
}

func (h *httpAPI) respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	h.respond(w, r, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_, err = w.Write(body)

	return err
}
