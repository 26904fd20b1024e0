// Command ingest serves the HTTP API for submitting documents to the
// pipeline, cancelling in-flight jobs, and deleting documents.
// Grounded on the teacher's cmd/api main.go wiring shape, generalized
// from a single http.ServeMux onto a go-chi router with the shared
// pkg/mid middleware chain plus go-chi/cors for preflight handling.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/mentorfy/ingestpipe/engine/config"
	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/graph"
	"github.com/mentorfy/ingestpipe/engine/pipeline"
	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/store"
	"github.com/mentorfy/ingestpipe/pkg/mid"
	"github.com/mentorfy/ingestpipe/pkg/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	broker := queue.NewRedisBroker(redisClient, "ingestpipe")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	gateway := storage.New(s3.NewFromConfig(awsCfg), cfg.S3Bucket)

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graphEngine := graph.NewNeo4jEngine(neo4jDriver)

	coordinator := pipeline.NewCoordinator(st, broker, logger)
	deletion := pipeline.NewDeletion(st, coordinator, graphEngine, logger)

	_ = gateway // wired into the worker process; unused by this server's handlers

	srv := &server{store: st, coordinator: coordinator, deletion: deletion, log: logger}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	chain := func(h http.Handler) http.Handler {
		return mid.Chain(h, mid.Recover(logger), mid.Logger(logger), mid.OTel("ingest-api"))
	}

	r.Method(http.MethodGet, "/api/health", chain(http.HandlerFunc(handleHealth)))
	r.Method(http.MethodPost, "/api/documents", chain(http.HandlerFunc(srv.handleSubmit)))
	r.Method(http.MethodPost, "/api/documents/{id}/cancel", chain(http.HandlerFunc(srv.handleCancel)))
	r.Method(http.MethodDelete, "/api/documents/{id}", chain(http.HandlerFunc(srv.handleDelete)))
	r.Method(http.MethodPost, "/api/documents/delete-batch", chain(http.HandlerFunc(srv.handleDeleteBatch)))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingest api listening", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

type server struct {
	store       store.Store
	coordinator *pipeline.Coordinator
	deletion    *pipeline.Deletion
	log         *slog.Logger
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type submitRequest struct {
	TenantID       string `json:"tenant_id"`
	SourceName     string `json:"source_name"`
	SourcePlatform string `json:"source_platform"`
	FileType       string `json:"file_type"`
	FolderID       string `json:"folder_id"`
	RawLocation    string `json:"raw_location"`
	SourceLocation string `json:"source_location"`
	StoreRaw       bool   `json:"store_raw"`
	UserID         string `json:"user_id"`
}

type submitResponse struct {
	DocumentID string `json:"document_id"`
	JobID      string `json:"job_id"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc := domain.Document{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		FileType:       req.FileType,
		SourcePlatform: req.SourcePlatform,
		SourceName:     req.SourceName,
		FolderID:       req.FolderID,
		Status:         domain.DocStatusPending,
	}
	if _, err := s.store.CreateDocument(r.Context(), doc); err != nil {
		s.log.Error("create document failed", "error", err)
		http.Error(w, "could not create document", http.StatusInternalServerError)
		return
	}

	jobID, _, err := s.coordinator.Submit(r.Context(), doc, req.TenantID, req.RawLocation, req.SourceLocation, req.StoreRaw, req.UserID)
	if err != nil {
		if ve, ok := err.(*domain.ValidationError); ok {
			http.Error(w, ve.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("submit failed", "error", err)
		http.Error(w, "could not submit document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{DocumentID: doc.ID, JobID: jobID})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenantID := r.URL.Query().Get("tenant_id")
	if err := s.coordinator.Cancel(r.Context(), id, tenantID); err != nil {
		s.log.Error("cancel failed", "document_id", id, "error", err)
		http.Error(w, "could not cancel", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenantID := r.URL.Query().Get("tenant_id")
	if err := s.deletion.Delete(r.Context(), id, tenantID); err != nil {
		s.log.Error("delete failed", "document_id", id, "error", err)
		http.Error(w, "could not delete document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteBatchRequest struct {
	TenantID    string   `json:"tenant_id"`
	DocumentIDs []string `json:"document_ids"`
}

func (s *server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req deleteBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.deletion.DeleteBatch(r.Context(), req.DocumentIDs, req.TenantID); err != nil {
		s.log.Error("batch delete failed", "error", err)
		http.Error(w, "could not delete documents", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
