package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/antigravity-pool/internal/api"
	"github.com/pysugar/antigravity-pool/internal/auth/google"
	"github.com/pysugar/antigravity-pool/internal/auth/token"
	"github.com/pysugar/antigravity-pool/internal/config"
	"github.com/pysugar/antigravity-pool/internal/db"
	"github.com/pysugar/antigravity-pool/internal/pool"
	"github.com/pysugar/antigravity-pool/internal/upstream"
	"github.com/pysugar/antigravity-pool/internal/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("AGPOOL_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if google.IsUsingDefaultOAuthCredentials() {
		log.Printf("⚠️ Using built-in OAuth client credentials; set GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET to override")
	}

	refresher := token.NewRefresher(google.OAuthConfig(""), token.WithTimeout(cfg.RefreshTimeout))

	manager, err := pool.NewManager(db.NewStore(gdb), refresher,
		pool.WithAuthFlow(google.NewFlow()),
		pool.WithProjectDiscoverer(upstream.NewClient(cfg.UpstreamBase)),
		pool.WithDefaultCooldown(cfg.Cooldown),
	)
	if err != nil {
		log.Fatalf("Failed to initialize account pool: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(api.RequestID)
	r.Mount("/", api.Routes(manager, cfg.AdminPassword))

	log.Printf("🚀 antigravity-pool %s starting on http://%s", version.Version, cfg.Addr())
	log.Printf("📊 Management API: http://%s/accounts", cfg.Addr())

	if err := http.ListenAndServe(cfg.Addr(), r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
