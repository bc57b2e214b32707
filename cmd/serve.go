package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/config"
	"github.com/kozaktomas/cluster-sorter/internal/coordinator"
	"github.com/kozaktomas/cluster-sorter/internal/freeze"
	"github.com/kozaktomas/cluster-sorter/internal/producer"
	"github.com/kozaktomas/cluster-sorter/internal/scan"
	"github.com/kozaktomas/cluster-sorter/internal/store"
	"github.com/kozaktomas/cluster-sorter/internal/webui"
)

var serveCmd = &cobra.Command{
	Use:   "serve [path]",
	Short: "Scan a folder, embed new images, and serve the live cluster view",
	Long: `serve runs the full pipeline: it scans the given folder for images,
embeds any not already stored, continuously re-clusters as new
embeddings arrive, and serves the result over HTTP with Server-Sent
Events so a browser-based client can render the clusters live.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	root := args[0]
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Connecting to PostgreSQL...")
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	persistence := store.NewPostgresPersistence(pool)
	if err := persistence.Migrate(ctx, cfg.Embedding.Dim); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	st := store.New(project, persistence, func() int64 { return time.Now().Unix() })
	fmt.Println("Loading prior session state...")
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("failed to load prior session: %w", err)
	}
	fmt.Printf("Loaded %d previously embedded images\n", len(st.Valid()))

	freezeMgr := freeze.New()
	st.SetFrozenGuard(freezeMgr.IsRepresentative)

	engine := cluster.New(rand.New(rand.NewSource(time.Now().UnixNano())))
	clusterCfg := cluster.Config{
		K:                         cfg.Clustering.K,
		Threshold:                 cfg.Clustering.Threshold,
		IterationCap:              cfg.Clustering.IterationCap,
		RepresentativesPerCluster: cfg.Clustering.RepresentativesPerCluster,
	}

	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}

	webServer := webui.NewServer(nil, st)
	coord := coordinator.New(st, engine, freezeMgr, webServer, clusterCfg)
	webServer.SetCoordinator(coord)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: webServer,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	fmt.Printf("Scanning %s...\n", root)
	handles, err := scan.Scan(root)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", root, err)
	}
	st.SetTotalImagesFound(len(handles))
	fmt.Printf("Found %d images\n", len(handles))

	embedder := producer.NewHTTPEmbedder(cfg.Embedding.URL, nil)
	sink := coordinator.NewProducerSink(st, coord)
	prod := producer.New(embedder, sink, producer.Config{
		BatchSize:  cfg.Clustering.BatchSize,
		FlushEvery: cfg.Clustering.RefreshInterval,
	}, nil)

	unprocessed := unprocessedHandles(handles, st)
	fmt.Printf("%d images need embedding\n", len(unprocessed))

	if len(unprocessed) > 0 {
		bar := progressbar.NewOptions(len(unprocessed),
			progressbar.OptionSetDescription("Embedding images"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		prod.SetOnProcessed(func(n int) { _ = bar.Add(n) })
	}

	go func() {
		if err := prod.Run(ctx, unprocessed); err != nil {
			fmt.Printf("producer stopped: %v\n", err)
		}
	}()

	fmt.Printf("Serving on http://%s\n", httpServer.Addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// unprocessedHandles filters handles down to paths not already embedded
// and not previously marked failed — a poisoned input that could not be
// embedded once is never retried across a serve restart (§7).
func unprocessedHandles(handles []scan.Handle, st *store.Store) []producer.ImageHandle {
	known := make(map[string]struct{})
	for r := range st.All() {
		known[r.Path] = struct{}{}
	}

	out := make([]producer.ImageHandle, 0, len(handles))
	for _, h := range handles {
		if _, ok := known[h.Path]; ok {
			continue
		}
		if st.IsFailed(h.Path) {
			continue
		}
		out = append(out, producer.ImageHandle{Path: h.Path, Open: h.Open})
	}
	return out
}
