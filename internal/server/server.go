package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/kinfolk/kinsync/internal/cache"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/codec"
	"github.com/kinfolk/kinsync/internal/config"
	"github.com/kinfolk/kinsync/internal/jobs"
	"github.com/kinfolk/kinsync/internal/service"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server represents the server
type Server struct {
	httpPort string
}

// NewServer creates a new server
func NewServer(httpPort string) *Server {
	return &Server{
		httpPort: httpPort,
	}
}

// Start starts the server
func (s *Server) Start() {
	if err := Start(s.httpPort); err != nil {
		logrus.Fatalf("error starting server: %v", err)
	}
}

// Start wires the store, services, background jobs and the http server,
// then blocks until an interrupt signal.
func Start(httpPort string) error {
	httpPort = ":" + httpPort

	cnf := config.LoadConfig()
	db := config.GetDb(cnf)

	rl, err := net.Listen("tcp", httpPort)
	if err != nil {
		return err
	}

	syncStore := store.NewGormStore(db)
	if err := syncStore.Migrate(); err != nil {
		return err
	}

	peer := client.NewHTTPPeer()
	peopleCache := cache.NewPeopleCache(cnf.RedisAddr)
	payloadCodec := codec.NewGZip()

	pairingService := service.NewPairingService(cnf, syncStore, peer)
	syncService := service.NewSyncService(syncStore, peer, payloadCodec)
	mappingService := service.NewMappingService(syncStore, peer, peopleCache)
	conflictService := service.NewConflictService(syncStore)
	mergeService := service.NewMergeService(syncStore)

	mux := http.NewServeMux()
	handlers := NewHandlers(syncStore, pairingService, syncService, mappingService, conflictService, mergeService)
	handlers.Register(mux)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // All origins are allowed
		AllowedMethods:   []string{"GET", "POST", "DELETE", "PUT"},
		AllowedHeaders:   []string{"Authorization", HeaderUserID},
		AllowCredentials: true,
	})

	restServer := &http.Server{
		Addr:    httpPort,
		Handler: c.Handler(mux),
	}

	executor := jobs.NewTaskExecutor([]jobs.CronJob{
		jobs.NewSyncRunner(syncService, cnf.SyncInterval),
		jobs.NewIntentRetry(syncService, mappingService, "@every 5m"),
	})
	executor.Run()

	codeCleaner := jobs.NewCodeCleaner(syncStore)
	go codeCleaner.Run()

	// make sure to wait for the server to stop before exiting
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting sync api on: ", httpPort)
		if err := restServer.Serve(rl); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("error starting sync api: %v", err)
			}
		}
		logrus.Infof("sync api stopped")
	}()

	time.Sleep(1 * time.Second)
	logrus.Infof("Press Ctrl+C to stop the server")

	// listen for interrupt signal to gracefully shut down the server
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	<-sigs
	// clean Ctrl+C output
	fmt.Println()

	executor.Stop()
	codeCleaner.Stop()

	if err := restServer.Shutdown(context.Background()); err != nil {
		logrus.Errorf("error stopping sync api: %v", err)
	}

	wg.Wait()

	return nil
}
