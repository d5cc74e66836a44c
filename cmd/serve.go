package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var servePort int

// serverEnv holds what the HTTP handlers need. Engines are built per run
// because each snapshot carries its own sheet reference.
type serverEnv struct {
	runs        store.RunStore
	pipelineFor func(sheetRef string) (*pipeline.Engine, error)
	dispatchFor func(sheetRef string) (*dispatch.Engine, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run status and resume endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		env := &serverEnv{
			runs: st,
			pipelineFor: func(sheetRef string) (*pipeline.Engine, error) {
				return initPipelineEngine(st, sheetRef, "")
			},
			dispatchFor: func(sheetRef string) (*dispatch.Engine, error) {
				return initDispatchEngine(st, sheetRef)
			},
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "serve")
		}
		return nil
	},
}

// newRouter builds the HTTP surface. baseCtx outlives individual requests and
// scopes background processing kicked off by resume.
func newRouter(baseCtx context.Context, env *serverEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/runs", env.handleListRuns)
	r.Get("/runs/{id}", env.handleGetRun)
	r.Post("/runs/{id}/resume", env.handleResume(baseCtx))

	return r
}

func (env *serverEnv) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := env.runs.List(r.Context(), store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Stage:  model.Stage(q.Get("stage")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunInfo{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (env *serverEnv) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if snap, err := env.runs.GetPipeline(r.Context(), id); err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	} else if !eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	snap, err := env.runs.GetDispatch(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, eris.Errorf("run %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleResume advances a suspended run. The payload shape depends on the
// stage: schema overrides at awaiting_schema, a batch-size override at
// awaiting_plan, subject and cap settings at awaiting_preview. Long passes
// run in the background and the request returns 202.
func (env *serverEnv) handleResume(baseCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "read body"))
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			body = []byte("{}")
		}

		if snap, err := env.runs.GetPipeline(r.Context(), id); err == nil {
			env.resumePipeline(baseCtx, w, snap, body)
			return
		} else if !eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		snap, err := env.runs.GetDispatch(r.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, eris.Errorf("run %s not found", id))
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		env.resumeDispatch(baseCtx, w, snap, body)
	}
}

func (env *serverEnv) resumePipeline(baseCtx context.Context, w http.ResponseWriter, snap *model.PipelineSnapshot, body []byte) {
	switch snap.Stage {
	case model.StageAwaitingSchema:
		var input pipeline.SchemaInput
		if err := decodeStrict(body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		engine, err := env.pipelineFor(snap.SheetRef)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		next, err := engine.ConfirmSchema(baseCtx, snap, input)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusOK, next)

	case model.StageAwaitingPlan:
		var input pipeline.PlanInput
		if err := decodeStrict(body, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		engine, err := env.pipelineFor(snap.SheetRef)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		go func() {
			summary, err := engine.ApprovePlan(baseCtx, snap, input)
			if err != nil {
				zap.L().Error("background processing failed",
					zap.String("run_id", snap.ID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("background processing complete",
				zap.String("run_id", snap.ID),
				zap.Int("processed", summary.Counters.Processed),
				zap.Int("qualified", summary.Counters.Qualified),
			)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing", "id": snap.ID})

	default:
		writeError(w, http.StatusConflict, eris.Errorf("run %s is at stage %s, not resumable", snap.ID, snap.Stage))
	}
}

func (env *serverEnv) resumeDispatch(baseCtx context.Context, w http.ResponseWriter, snap *model.DispatchSnapshot, body []byte) {
	if snap.Stage != model.StageAwaitingPreview {
		writeError(w, http.StatusConflict, eris.Errorf("run %s is at stage %s, not resumable", snap.ID, snap.Stage))
		return
	}

	var input dispatch.PreviewInput
	if err := decodeStrict(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	engine, err := env.dispatchFor(snap.SheetRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	go func() {
		summary, err := engine.Send(baseCtx, snap, input)
		if err != nil {
			zap.L().Error("background send failed",
				zap.String("run_id", snap.ID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("background send complete",
			zap.String("run_id", snap.ID),
			zap.Int("sent", summary.Sent),
			zap.Int("failed", summary.Failed),
		)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sending", "id": snap.ID})
}

// decodeStrict rejects payloads carrying fields the stage does not accept.
func decodeStrict(body []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return eris.Wrap(err, "invalid payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (defaults to configured port)")
	rootCmd.AddCommand(serveCmd)
}
