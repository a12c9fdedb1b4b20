// Entry point for the nlquery server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/nlquery/nlquery-go/internal/config"
	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/internal/graphstore"
	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/internal/ontology"
	"github.com/nlquery/nlquery-go/internal/reload"
	"github.com/nlquery/nlquery-go/internal/retrieval"
	"github.com/nlquery/nlquery-go/internal/schema"
	"github.com/nlquery/nlquery-go/internal/statemachine"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "-h", "--help", "help":
			printHelp()
			return
		case "--version", "-v":
			fmt.Println("nlqueryd version: v0.1.0")
			return
		}
	}

	port := "8080"
	if len(args) > 0 {
		if args[0] == "--server" && len(args) > 1 {
			port = args[1]
		} else if args[0] != "--server" {
			fmt.Fprintln(os.Stderr, "Unknown argument. Use --help for usage.")
			os.Exit(1)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.HTTPAddr != "" && cfg.HTTPAddr != ":8080" {
		port = cfg.HTTPAddr[1:]
	}

	runServer(cfg, port)
}

func buildSubsystems(doc config.Document) (*dbadapter.Adapter, *schema.Store, *ontology.Store, *graphstore.Store, *retrieval.Store, *statemachine.Machine, llmprovider.Provider, error) {
	adapter := dbadapter.New()
	schemaStore := schema.NewStore(adapter)

	provider, err := llmprovider.New(llmprovider.Config{
		Provider:    doc.LLM.Provider,
		APIKey:      doc.LLM.APIKey,
		Model:       doc.LLM.Model,
		MaxTokens:   doc.LLM.MaxTokens,
		TimeoutSecs: int(doc.LLM.CallTimeout / time.Second),
	})
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("building LLM provider: %w", err)
	}

	mode := ontology.ModeDynamic
	if doc.Ontology.Mode == "static" {
		mode = ontology.ModeStatic
	}
	ontologyStore := ontology.NewStore(provider, ontology.Config{
		Mode:        mode,
		StaticFile:  doc.Ontology.StaticFile,
		MaxConcepts: doc.Ontology.MaxConcepts,
		PersistYAML: doc.Ontology.PersistToFile,
		PersistDir:  doc.Ontology.PersistDir,
	})

	var graphBackend graphstore.Backend
	if doc.Graph.Backend == "external" && doc.Graph.ExternalURL != "" {
		dataset := doc.Graph.Dataset
		if dataset == "" {
			dataset = "nlquery"
		}
		graphBackend = graphstore.NewExternal(doc.Graph.ExternalURL, dataset)
	} else {
		graphBackend = graphstore.NewInProcess()
	}
	graphStore := graphstore.NewStore(graphBackend, graphstore.WithMaxPathDepth(doc.Graph.MaxPathDepth))

	var retrievalBackend retrieval.Backend
	if doc.Retrieval.Backend == "elasticsearch" && doc.Retrieval.ElasticURL != "" {
		es, err := retrieval.NewElasticsearch([]string{doc.Retrieval.ElasticURL})
		if err != nil {
			return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("building elasticsearch retrieval backend: %w", err)
		}
		retrievalBackend = es
	} else {
		retrievalBackend = retrieval.NewInProcess()
	}
	retrievalStore := retrieval.NewStore(retrievalBackend, retrieval.NewHashEmbedder())

	machine := statemachine.New(adapter, schemaStore, ontologyStore, graphStore, retrievalStore, provider, func() statemachine.EnabledSet {
		return statemachine.EnabledSet{
			Ontology:  doc.Ontology.Enabled,
			Graph:     doc.Graph.Enabled,
			Retrieval: doc.Retrieval.Enabled,
		}
	})

	return adapter, schemaStore, ontologyStore, graphStore, retrievalStore, machine, provider, nil
}

func runServer(cfg *config.Config, port string) {
	adapter, schemaStore, ontologyStore, graphStore, retrievalStore, machine, _, err := buildSubsystems(cfg.Document)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing subsystems: %v\n", err)
		os.Exit(1)
	}

	coordinator := reload.New(cfg.Document, reload.Deps{
		OntologyStore: ontologyStore,
		GraphStore:    graphStore,
		Retrieval:     retrievalStore,
		Machine:       machine,
	})

	sweep, err := coordinator.StartSweep("@every 1m", func() { schemaStore.Prune() })
	if err != nil {
		log.Printf("Warning: failed to start background sweep: %v", err)
	}

	server := NewServer(adapter, schemaStore, machine, coordinator)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8080", "*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(server.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting nlquery server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Error starting server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sweep != nil {
		sweep.Stop()
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func printHelp() {
	fmt.Println("Usage:")
	fmt.Println("  --server [port]     Start HTTP server (default port: 8080)")
	fmt.Println("  -h, --help, help    Show this help message")
	fmt.Println("  -v, --version       Show nlqueryd version")
}
