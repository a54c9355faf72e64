package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/form"
	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/matching"
	"github.com/uhyunpark/tradeform/pkg/sizing"
	"github.com/uhyunpark/tradeform/pkg/storage"
	"github.com/uhyunpark/tradeform/pkg/util"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// RunStore is the read side of the matching journal.
type RunStore interface {
	LoadRun(ctx context.Context, id string) (matching.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]matching.RunRecord, error)
	FormRuns(ctx context.Context, formID string, limit int) ([]matching.RunRecord, error)
}

type Config struct {
	Forms   *form.Registry
	Runs    RunStore // optional
	Limiter *sizing.Limiter
	Hub     *Hub

	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	forms    *form.Registry
	runs     RunStore
	limiter  *sizing.Limiter
	hub      *Hub
	router   *mux.Router
	validate *validator.Validate
	origins  []string
	log      *zap.SugaredLogger
}

func NewServer(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(cfg.Logger)
	}
	s := &Server{
		forms:    cfg.Forms,
		runs:     cfg.Runs,
		limiter:  cfg.Limiter,
		hub:      hub,
		router:   mux.NewRouter(),
		validate: validator.New(),
		origins:  cfg.AllowedOrigins,
		log:      util.OrNop(cfg.Logger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/limit", s.handleLimit).Methods("POST")

	// Form sessions
	api.HandleFunc("/forms", s.handleCreateForm).Methods("POST")
	api.HandleFunc("/forms/{id}", s.handleGetForm).Methods("GET")
	api.HandleFunc("/forms/{id}", s.handleDeleteForm).Methods("DELETE")
	api.HandleFunc("/forms/{id}/input", s.handleInput).Methods("POST")
	api.HandleFunc("/forms/{id}/max", s.handleMax).Methods("POST")
	api.HandleFunc("/forms/{id}/collateral", s.handleCollateral).Methods("POST")
	api.HandleFunc("/forms/{id}/tokenize", s.handleTokenize).Methods("POST")
	api.HandleFunc("/forms/{id}/submit", s.handleSubmit).Methods("POST")
	api.HandleFunc("/forms/{id}/runs", s.handleFormRuns).Methods("GET")

	// Matching journal
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.limiter.Limit(r.Context(), req.input())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, LimitResponse{AmountState: st, NaN: st.IsNaN()})
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var p form.Params
	if !s.decode(w, r, &p) {
		return
	}
	if p.Direction == 0 || p.PositionType == 0 {
		respondError(w, http.StatusBadRequest, "invalid request", "direction and positionType are required")
		return
	}

	sess, err := s.forms.Open(r.Context(), p)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.log.Infow("form_opened", "form", sess.ID(), "token", sess.View().TokenKey)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess.View())
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, sess.View())
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.forms.Close(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.log.Infow("form_closed", "form", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req InputRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess.Input(req.Text)
	respondAccepted(w, sess.ID())
}

func (s *Server) handleMax(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.SetMax()
	respondAccepted(w, sess.ID())
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req CollateralRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := sess.SetCollateral(r.Context(), req.Asset); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, sess.View())
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req TokenizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := sess.SetTokenizeNeeded(r.Context(), req.TokenizeNeeded); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, sess.View())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	// A matching run pushes orders one by one; a dropped connection must
	// not cut it short.
	ctx := context.WithoutCancel(r.Context())
	res, err := sess.Submit(ctx)

	switch {
	case err == nil && res.Matching != nil:
		respondJSON(w, SubmitResponse{Status: "matched", Matching: res.Matching})
	case err == nil:
		respondJSON(w, SubmitResponse{Status: "sized", Request: res.Request})
	case res.Matching != nil && isShortfall(err):
		s.log.Warnw("form_submit_partial", "form", sess.ID(), "run", res.Matching.RunID, "err", err)
		respondJSON(w, SubmitResponse{Status: "partial", Matching: res.Matching, Message: err.Error()})
	default:
		s.respondErr(w, err)
	}
}

func isShortfall(err error) bool {
	return errors.Is(err, matching.ErrInsufficientLiquidity) || errors.Is(err, matching.ErrPartialSubmission)
}

func (s *Server) handleFormRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "no run journal is configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.runs.FormRuns(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, runs)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "no run journal is configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "no run journal is configured")
		return
	}
	rec, err := s.runs.LoadRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{
		Status: "ok",
		Forms:  len(s.forms.IDs()),
		Time:   time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*form.Session, bool) {
	sess, err := s.forms.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return sess, true
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultRunsLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
		return 0, false
	}
	if n > maxRunsLimit {
		n = maxRunsLimit
	}
	return n, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, form.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, form.ErrClosed):
		return http.StatusGone, "form closed"
	case errors.Is(err, form.ErrZeroAmount):
		return http.StatusUnprocessableEntity, "zero amount"
	case errors.Is(err, form.ErrCancelled):
		return http.StatusConflict, "trade cancelled"
	case errors.Is(err, matching.ErrRunInProgress):
		return http.StatusConflict, "run in progress"
	case errors.Is(err, market.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider unavailable"
	case errors.Is(err, market.ErrGateway), isShortfall(err):
		return http.StatusBadGateway, "upstream error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, title := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("api_request_failed", "status", status, "err", err)
	}
	respondError(w, status, title, err.Error())
}

func respondAccepted(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(AcceptedResponse{ID: id, Channel: formChannel(id)})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
