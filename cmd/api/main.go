package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"guardia.org/internal/audit"
	"guardia.org/internal/auth"
	"guardia.org/internal/httpapi"
	"guardia.org/internal/obs"
	"guardia.org/internal/rbac"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GUARDIA_COMMIT"))

	dsn := os.Getenv("GUARDIA_PG_DSN")
	if dsn == "" {
		log.Fatal("missing GUARDIA_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	secret := os.Getenv("GUARDIA_JWT_SECRET")
	if secret == "" {
		log.Fatal("missing GUARDIA_JWT_SECRET")
	}
	tokens, err := auth.NewJWTProvider(secret)
	if err != nil {
		log.Fatalf("token provider: %v", err)
	}

	users := rbac.NewPGUserStore(db)
	roles := rbac.NewPGRoleStore(db)
	permissions := rbac.NewPGPermissionStore(db)
	policies := rbac.NewPGPolicyStore(db)
	recorder := audit.NewRecorder(audit.NewPGStore(db))
	hasher := auth.NewBcryptHasher()

	authSvc, err := auth.NewService(users, tokens, hasher, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	registration, err := rbac.NewRegistrationService(users, roles, hasher, recorder)
	if err != nil {
		log.Fatalf("registration service: %v", err)
	}
	access, err := rbac.NewAccessControlService(roles, permissions, policies, recorder)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		Auth:         authSvc,
		Registration: registration,
		Access:       access,
		Roles:        roles,
		Permissions:  permissions,
		Tokens:       tokens,
	})

	addr := os.Getenv("GUARDIA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting guardia-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
