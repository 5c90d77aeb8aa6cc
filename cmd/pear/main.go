package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/lklkevin/pear/internal/account"
	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/browse"
	"github.com/lklkevin/pear/internal/config"
	"github.com/lklkevin/pear/internal/exam"
	"github.com/lklkevin/pear/internal/gateway"
	"github.com/lklkevin/pear/internal/generate"
	"github.com/lklkevin/pear/internal/history"
	"github.com/lklkevin/pear/internal/poller"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Configuration ──
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// ── Backend client ──
	client, err := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	if err != nil {
		log.Fatalf("failed to create backend client: %v", err)
	}
	log.Printf("using exam backend at %s", cfg.Backend.URL)

	// ── Redis (browsing session) ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("connected to Redis at", cfg.Redis.Addr)

	// ── History ──
	rec, err := history.Open(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		log.Fatalf("failed to open history: %v", err)
	}
	log.Printf("history store: %s", cfg.History.Driver)

	// ── Services ──
	store := state.NewStore(cfg.Session.ToastTTL)
	browsing := session.NewBrowsing(rdb, cfg.Session.BrowsingID, cfg.Session.ExamTTL, cfg.Session.TaskTTL)
	log.Printf("browsing session %s", browsing.ID())

	sess := session.NewManager(client, store, cfg.Session.AccessTTL)
	p := poller.New(client, store, poller.Config{
		Interval: cfg.Poll.Interval,
		Timeout:  cfg.Poll.Timeout,
	})
	gen := generate.New(client, p, store, browsing, rec)

	deps := gateway.Deps{
		Store:      store,
		Session:    sess,
		Generator:  gen,
		Searchers:  browse.NewSearchers(client, store),
		Favourites: browse.NewFavourites(client, store),
		Account:    account.NewService(client, store, sess),
		Viewer:     exam.NewViewer(client, browsing, store),
		History:    rec,
	}

	// ── State stream (background) ──
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	hub := gateway.NewHub(store)
	go hub.Run(hubCtx)

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := gateway.NewRouter(gateway.NewHandler(deps, hub), cfg.Gateway.CORSOrigins)

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.Gateway.Address,
		Handler: r,
	}

	go func() {
		log.Printf("gateway listening on %s", cfg.Gateway.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gateway...")
	gen.Cancel()
	p.Stop()
	hubCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	// The cancelled submission records its outcome on the way out.
	if sub := gen.Current(); sub != nil {
		if _, err := sub.Wait(shutdownCtx); err != nil {
			log.Printf("submission still running at shutdown: %v", err)
		}
	}

	if err := rec.Close(); err != nil {
		log.Printf("history close error: %v", err)
	}
	rdb.Close()
	log.Println("gateway exited cleanly")
}
