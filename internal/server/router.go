package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/queue"
	"github.com/loykin/steamkeeper/internal/store"
	"github.com/loykin/steamkeeper/internal/supervisor"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type QueueView interface {
	Snapshot() queue.State
	Running() bool
}

type LogView interface {
	Page(page, size int) ([]logs.Entry, int)
	LastBySource(source string, n int) []logs.Entry
	ReadFile(day string) ([]string, error)
}

type ProfileView interface {
	List() ([]store.Profile, error)
}

type RunView interface {
	Tracked() []int
	RunningAll() bool
}

type ScanView interface {
	Failures() map[int]int
}

// QueueControl mutates the update queue.
type QueueControl interface {
	Enqueue(ctx context.Context, profileID int, appID string, isMainApp bool, parentAppID string) (queue.Item, error)
	Dequeue(id string) bool
	Clear() int
	Cancel()
}

// Stopper cancels the queue and stops every tool process.
type Stopper interface {
	StopAll(ctx context.Context) []supervisor.Result
}

// Options are the views and controls served by the router. Nil views
// disable their endpoints with 503.
type Options struct {
	Queue    QueueView
	Control  QueueControl
	Stopper  Stopper
	Logs     LogView
	Profiles ProfileView
	Runs     RunView
	Scans    ScanView
	// Events serves the websocket push channel.
	Events http.Handler
	Logger *slog.Logger
}

// Router exposes the admin surface:
//
//	GET {basePath}/healthz
//	GET {basePath}/metrics
//	GET {basePath}/events           websocket
//	GET {basePath}/api/profiles
//	GET {basePath}/api/queue
//	GET {basePath}/api/logs         query: page, size, source, day=YYYY-MM-DD
//	POST {basePath}/api/queue       body: {"profile_id":1,"app_id":"730"}
//	POST {basePath}/api/queue/cancel
//	DELETE {basePath}/api/queue     removes every pending job
//	DELETE {basePath}/api/queue/:id
//	POST {basePath}/api/stop-all
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	opts     Options
	basePath string
}

func NewRouter(opts Options, basePath string) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{opts: opts, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	if r.opts.Events != nil {
		group.GET("/events", gin.WrapH(r.opts.Events))
	}
	api := group.Group("/api")
	api.GET("/profiles", r.handleProfiles)
	api.GET("/queue", r.handleQueue)
	api.GET("/logs", r.handleLogs)
	api.POST("/queue", r.handleEnqueue)
	api.POST("/queue/cancel", r.handleCancel)
	api.DELETE("/queue", r.handleClear)
	api.DELETE("/queue/:id", r.handleDequeue)
	api.POST("/stop-all", r.handleStopAll)
	return g
}

// NewServer serves the router on addr in the background, over HTTPS when
// tlsCfg is non-nil. Stop it with Shutdown or Close.
func NewServer(addr, basePath string, tlsCfg *tls.Config, opts Options) *http.Server {
	r := NewRouter(opts, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			// certificates come from TLSConfig.GetCertificate
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.opts.Logger.Error("Admin server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	OK           bool        `json:"ok"`
	Running      []int       `json:"running"`
	RunAll       bool        `json:"run_all"`
	QueueRunning bool        `json:"queue_running"`
	QueuePending int         `json:"queue_pending"`
	ScanFailures map[int]int `json:"scan_failures,omitempty"`
}

type enqueueReq struct {
	ProfileID int    `json:"profile_id"`
	AppID     string `json:"app_id"`
}

type clearResp struct {
	Removed int `json:"removed"`
}

type stopResult struct {
	ProfileID int    `json:"profile_id"`
	AppID     string `json:"app_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type logsResp struct {
	Entries []logs.Entry `json:"entries"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Size    int          `json:"size"`
}

type fileResp struct {
	Day   string   `json:"day"`
	Lines []string `json:"lines"`
}

func unavailable(c *gin.Context, what string) {
	writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: what + " not available"})
}

func (r *Router) handleHealth(c *gin.Context) {
	resp := healthResp{OK: true, Running: []int{}}
	if r.opts.Runs != nil {
		resp.Running = append(resp.Running, r.opts.Runs.Tracked()...)
		resp.RunAll = r.opts.Runs.RunningAll()
	}
	if r.opts.Scans != nil {
		if f := r.opts.Scans.Failures(); len(f) > 0 {
			resp.ScanFailures = f
		}
	}
	if r.opts.Queue != nil {
		resp.QueueRunning = r.opts.Queue.Running()
		for _, it := range r.opts.Queue.Snapshot().Queue {
			if it.Status == queue.StatusPending {
				resp.QueuePending++
			}
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

// profileView hides stored credentials.
type profileView struct {
	store.Profile
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
}

func (r *Router) handleProfiles(c *gin.Context) {
	if r.opts.Profiles == nil {
		unavailable(c, "profiles")
		return
	}
	list, err := r.opts.Profiles.List()
	if err != nil {
		r.opts.Logger.Error("Failed to list profiles", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]profileView, 0, len(list))
	for _, p := range list {
		out = append(out, profileView{Profile: p, HasCredentials: p.HasCredentials()})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleQueue(c *gin.Context) {
	if r.opts.Queue == nil {
		unavailable(c, "queue")
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Queue.Snapshot())
}

func (r *Router) handleLogs(c *gin.Context) {
	if r.opts.Logs == nil {
		unavailable(c, "logs")
		return
	}
	if day := c.Query("day"); day != "" {
		lines, err := r.opts.Logs.ReadFile(day)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeJSON(c, http.StatusNotFound, errorResp{Error: "no log file for " + day})
		case err != nil:
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		default:
			writeJSON(c, http.StatusOK, fileResp{Day: day, Lines: lines})
		}
		return
	}

	page, err := queryInt(c, "page", 1)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	size, err := queryInt(c, "size", defaultPageSize)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	size = min(size, maxPageSize)

	if source := c.Query("source"); source != "" {
		entries := r.opts.Logs.LastBySource(source, size)
		writeJSON(c, http.StatusOK, logsResp{Entries: entries, Total: len(entries), Page: 1, Size: size})
		return
	}
	entries, total := r.opts.Logs.Page(page, size)
	writeJSON(c, http.StatusOK, logsResp{Entries: entries, Total: total, Page: page, Size: size})
}

func (r *Router) handleEnqueue(c *gin.Context) {
	if r.opts.Control == nil {
		unavailable(c, "queue control")
		return
	}
	var req enqueueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.ProfileID < 1 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "profile_id is required"})
		return
	}
	// A manual request for the profile's own app counts as a main-app job.
	it, err := r.opts.Control.Enqueue(c.Request.Context(), req.ProfileID, req.AppID, req.AppID == "", "")
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case err != nil:
		r.opts.Logger.Error("Failed to queue update", "profile", req.ProfileID, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusCreated, it)
	}
}

func (r *Router) handleDequeue(c *gin.Context) {
	if r.opts.Control == nil {
		unavailable(c, "queue control")
		return
	}
	id := c.Param("id")
	if !r.opts.Control.Dequeue(id) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no pending job " + id})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleClear(c *gin.Context) {
	if r.opts.Control == nil {
		unavailable(c, "queue control")
		return
	}
	writeJSON(c, http.StatusOK, clearResp{Removed: r.opts.Control.Clear()})
}

func (r *Router) handleCancel(c *gin.Context) {
	if r.opts.Control == nil {
		unavailable(c, "queue control")
		return
	}
	r.opts.Control.Cancel()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if r.opts.Stopper == nil {
		unavailable(c, "stop")
		return
	}
	results := r.opts.Stopper.StopAll(c.Request.Context())
	out := make([]stopResult, 0, len(results))
	for _, res := range results {
		out = append(out, stopResult{ProfileID: res.ProfileID, AppID: res.AppID, Success: res.Success, Error: res.Error()})
	}
	writeJSON(c, http.StatusOK, out)
}

// queryInt parses a positive integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}
