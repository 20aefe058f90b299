// Package facade implements asynx's REST API (spec §6): the HTTP surface
// apps use to insert, list, fetch, and delete tasks. It is a thin
// marshaling layer over pkg/taskqueue, generalized from the teacher's
// single-queue /enqueue endpoint into the per-(app,queue) resource
// hierarchy the spec describes.
package facade

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/taskqueue"
	"github.com/asynxgo/asynx/pkg/tasks"
)

// Facade wires a Registry into an http.Handler.
type Facade struct {
	registry *Registry
	apiKey   string
	now      func() time.Time
}

// New builds a Facade. apiKey, if non-empty, is required on every request
// via the X-API-Key header, matching the teacher's authMiddleware.
func New(registry *Registry, apiKey string) *Facade {
	return &Facade{registry: registry, apiKey: apiKey, now: time.Now}
}

// Router builds the Go 1.22+ pattern-routed mux for the task resource
// hierarchy described in spec §6.
func (f *Facade) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /apps/{app}/taskqueues/{queue}/tasks", f.wrap(f.listTasks))
	mux.HandleFunc("POST /apps/{app}/taskqueues/{queue}/tasks", f.wrap(f.insertTask))
	mux.HandleFunc("GET /apps/{app}/taskqueues/{queue}/tasks/{ident}", f.wrap(f.getTask))
	mux.HandleFunc("DELETE /apps/{app}/taskqueues/{queue}/tasks/{ident}", f.wrap(f.deleteTask))

	return mux
}

// wrap applies enableCORS and authMiddleware around a handler, mirroring
// the teacher's CORS(Auth(Handler)) composition so preflight requests
// never hit the API key check.
func (f *Facade) wrap(h http.HandlerFunc) http.HandlerFunc {
	return enableCORS(authMiddleware(h, f.apiKey))
}

func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requiredKey == "" {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != requiredKey {
			writeErr(w, r, http.StatusUnauthorized, 107250, "unauthorized", "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (f *Facade) listTasks(w http.ResponseWriter, r *http.Request) {
	tq := f.registry.Get(r.PathValue("app"), r.PathValue("queue"))

	offset, limit, err := parseOffsetLimit(r.URL.Query())
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	tasksFound, err := tq.ListTasks(r.Context(), offset, limit)
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	total, err := tq.CountTasks(r.Context())
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	views := make([]*tasks.View, len(tasksFound))
	now := f.now()
	for i, t := range tasksFound {
		views[i] = t.ToView(now)
	}

	writeJSON(w, http.StatusOK, struct {
		Kind  string        `json:"kind"`
		Total int64         `json:"total"`
		Items []*tasks.View `json:"items"`
	}{Kind: "TaskList", Total: total, Items: views})
}

func (f *Facade) insertTask(w http.ResponseWriter, r *http.Request) {
	tq := f.registry.Get(r.PathValue("app"), r.PathValue("queue"))

	var d tasks.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeErr(w, r, http.StatusBadRequest, 200100, "parse error", err.Error())
		return
	}

	if err := validateDescriptor(&d); err != nil {
		writeErr(w, r, http.StatusUnprocessableEntity, 200101, "validation error", err.Error())
		return
	}

	task, err := tq.AddTask(r.Context(), &d)
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, task.ToView(f.now()))
}

func (f *Facade) getTask(w http.ResponseWriter, r *http.Request) {
	tq := f.registry.Get(r.PathValue("app"), r.PathValue("queue"))

	id, err := parseIdent(r.PathValue("ident"))
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	task, err := id.resolve(r.Context(), tq)
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, task.ToView(f.now()))
}

func (f *Facade) deleteTask(w http.ResponseWriter, r *http.Request) {
	tq := f.registry.Get(r.PathValue("app"), r.PathValue("queue"))

	id, err := parseIdent(r.PathValue("ident"))
	if err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	if err := id.delete(r.Context(), tq); err != nil {
		writeTaskQueueErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErr renders the {request_uri, error_code, error_desc, error_detail}
// envelope (spec §6).
func writeErr(w http.ResponseWriter, r *http.Request, status, code int, desc, detail string) {
	writeJSON(w, status, struct {
		RequestURI  string `json:"request_uri"`
		ErrorCode   int    `json:"error_code"`
		ErrorDesc   string `json:"error_desc"`
		ErrorDetail string `json:"error_detail"`
	}{RequestURI: r.URL.RequestURI(), ErrorCode: code, ErrorDesc: desc, ErrorDetail: detail})
}

// writeTaskQueueErr maps an engine/store/facade error to the error-code
// table (spec §6/§7: 200100 parse/400, 200101 validation/422,
// 207202 not-found/404, 207203 already-exists or running/409, 107250
// internal/500) and writes it.
func writeTaskQueueErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code, desc := classify(err)
	writeErr(w, r, status, code, desc, err.Error())
}

func classify(err error) (status, code int, desc string) {
	switch {
	case errors.Is(err, ErrParse):
		return http.StatusBadRequest, 200100, "parse error"
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, 200101, "validation error"
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return http.StatusNotFound, 207202, "not found"
	case errors.Is(err, taskqueue.ErrTaskAlreadyExists):
		return http.StatusConflict, 207203, "already exists"
	case errors.Is(err, taskqueue.ErrTaskStatusNotMatched):
		return http.StatusConflict, 207203, "status conflict"
	case errors.Is(err, taskqueue.ErrCNameRequired):
		return http.StatusUnprocessableEntity, 200101, "validation error"
	case errors.Is(err, store.ErrContention):
		return http.StatusConflict, 207203, "contention"
	default:
		return http.StatusInternalServerError, 107250, "internal error"
	}
}
