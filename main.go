package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/authcore/backend/internal/config"
	"github.com/authcore/backend/internal/db"
	"github.com/authcore/backend/internal/handler"
	"github.com/authcore/backend/internal/service"
)

const sweepInterval = time.Hour

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	store := &db.Postgres{Pool: pool}
	if err := store.EnsureAuthSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	svc, err := service.NewAuthService(store, store, cfg.Auth)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	go sweepExpiredTokens(ctx, svc.Refresher())

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler.NewRouter(svc, cfg.Server.AllowedOrigins),
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// sweepExpiredTokens periodically removes expired refresh records. Lookups
// already reject expired rows, so this only reclaims storage.
func sweepExpiredTokens(ctx context.Context, refresher *service.RefreshManager) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := refresher.SweepExpired(ctx)
			if err != nil {
				log.Printf("refresh token sweep: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("refresh token sweep removed %d expired tokens", removed)
			}
		}
	}
}
