package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-lpr/internal/api"
	"github.com/technosupport/ts-lpr/internal/auth"
	"github.com/technosupport/ts-lpr/internal/blob"
	"github.com/technosupport/ts-lpr/internal/bridge"
	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/ingest"
	"github.com/technosupport/ts-lpr/internal/lpr"
	"github.com/technosupport/ts-lpr/internal/middleware"
	"github.com/technosupport/ts-lpr/internal/ratelimit"
	"github.com/technosupport/ts-lpr/internal/tokens"
)

const serviceName = "TS-LPR-Gateway"

// duration parses "1s" style values; yaml.v3 has no native support for
// time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) std() time.Duration { return time.Duration(d) }

type limitConfig struct {
	Rate   int      `yaml:"rate"`
	Window duration `yaml:"window"`
}

func (c limitConfig) toLimit() ratelimit.LimitConfig {
	return ratelimit.LimitConfig{Rate: c.Rate, Window: c.Window.std()}
}

type config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  duration `yaml:"read_timeout"`
		WriteTimeout duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Gateway struct {
		InitialBackoff duration `yaml:"initial_backoff"`
		MaxBackoff     duration `yaml:"max_backoff"`
		DialTimeout    duration `yaml:"dial_timeout"`
		AuthTimeout    duration `yaml:"auth_timeout"`
		WriteTimeout   duration `yaml:"write_timeout"`
		DrainDeadline  duration `yaml:"drain_deadline"`
	} `yaml:"gateway"`
	Ingest struct {
		NatsSubject    string   `yaml:"nats_subject"`
		PublishRetries int      `yaml:"publish_retries"`
		DedupSize      int      `yaml:"dedup_size"`
		DedupTTL       duration `yaml:"dedup_ttl"`
	} `yaml:"ingest"`
	Blob struct {
		Bucket string `yaml:"bucket"`
		UseSSL bool   `yaml:"use_ssl"`
	} `yaml:"blob"`
	RateLimit struct {
		GlobalIP limitConfig `yaml:"global_ip"`
		Login    limitConfig `yaml:"login"`
	} `yaml:"ratelimit"`
}

func loadConfig() config {
	var cfg config
	cfg.Server.Port = 8080
	cfg.Ingest.NatsSubject = "lpr.detections"
	cfg.Ingest.PublishRetries = 3
	cfg.Ingest.DedupSize = 4096
	cfg.Ingest.DedupTTL = duration(30 * time.Second)
	cfg.Blob.Bucket = "lpr-snapshots"
	cfg.RateLimit.GlobalIP = limitConfig{Rate: 300, Window: duration(time.Minute)}
	cfg.RateLimit.Login = limitConfig{Rate: 5, Window: duration(15 * time.Minute)}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/default.yaml"
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[WARN] Config: %s not readable, using defaults: %v", path, err)
		return cfg
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Fatalf("[ERROR] Config: parse %s: %v", path, err)
	}
	return cfg
}

func main() {
	cfg := loadConfig()

	// Env config. The HMAC secret and TLS material have no defaults: the
	// gateway refuses to start without them.
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	redisAddr := os.Getenv("REDIS_ADDR")
	natsURL := os.Getenv("NATS_URL")
	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	hmacSecret := os.Getenv("HMAC_SECRET_KEY")
	deviceToken := os.Getenv("LPR_AUTH_TOKEN")
	certPath := os.Getenv("CLIENT_CERT_PATH")
	keyPath := os.Getenv("CLIENT_KEY_PATH")
	caPath := os.Getenv("CA_CERT_PATH")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	if hmacSecret == "" {
		log.Fatal("[ERROR] HMAC_SECRET_KEY is required")
	}
	if certPath == "" || keyPath == "" || caPath == "" {
		log.Fatal("[ERROR] CLIENT_CERT_PATH, CLIENT_KEY_PATH and CA_CERT_PATH are required")
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("[ERROR] DB open: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[ERROR] DB ping: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	nc, err := nats.Connect(natsURL, nats.Name(serviceName),
		nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Fatalf("[ERROR] NATS connect: %v", err)
	}

	// Repositories
	lprs := data.LPRModel{DB: db}
	cameras := data.CameraModel{DB: db}
	buildings := data.BuildingModel{DB: db}
	gates := data.GateModel{DB: db}
	traffic := data.TrafficModel{DB: db}
	vehicles := data.VehicleModel{DB: db}
	users := data.UserModel{DB: db}

	// Blob store is optional; without MinIO the gateway still records
	// plate rows, just without snapshots.
	var blobs *blob.Store
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		blobs, err = blob.NewStore(blob.Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    cfg.Blob.UseSSL,
			Bucket:    cfg.Blob.Bucket,
		})
		if err != nil {
			log.Fatalf("[ERROR] Blob store: %v", err)
		}
		if err := blobs.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("[ERROR] Blob store: %v", err)
		}
	} else {
		log.Println("[WARN] MINIO_ENDPOINT not set, snapshot storage disabled")
	}

	// Ingest pipeline: bridge -> NATS -> traffic writer.
	publisher := ingest.NewPublisher(nc, cfg.Ingest.NatsSubject, cfg.Ingest.PublishRetries)
	eventBridge := bridge.New(publisher)

	var writerBlobs ingest.BlobStore
	if blobs != nil {
		writerBlobs = blobs
	}
	writer := ingest.NewWriter(traffic, vehicles, writerBlobs, cfg.Ingest.DedupSize, cfg.Ingest.DedupTTL.std())
	if err := writer.Start(nc, cfg.Ingest.NatsSubject); err != nil {
		log.Fatalf("[ERROR] Ingest writer: %v", err)
	}

	// Device connection pool
	tlsProvider, err := lpr.NewTLSProvider(certPath, keyPath, caPath)
	if err != nil {
		log.Fatalf("[ERROR] TLS provider: %v", err)
	}

	statusReporter := &lpr.StatusReporter{Client: rdb}

	pool := lpr.NewPool(lpr.PoolConfig{
		Devices:        deviceStoreWithToken{LPRModel: lprs, token: deviceToken},
		Cameras:        cameras,
		HMACSecret:     []byte(hmacSecret),
		Events:         eventBridge,
		Status:         statusReporter,
		TLS:            tlsProvider,
		InitialBackoff: cfg.Gateway.InitialBackoff.std(),
		MaxBackoff:     cfg.Gateway.MaxBackoff.std(),
		DialTimeout:    cfg.Gateway.DialTimeout.std(),
		AuthTimeout:    cfg.Gateway.AuthTimeout.std(),
		WriteTimeout:   cfg.Gateway.WriteTimeout.std(),
		DrainDeadline:  cfg.Gateway.DrainDeadline.std(),
	})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pool.Bootstrap(bootCtx); err != nil {
		log.Printf("[WARN] Bootstrap: %v", err)
	}
	bootCancel()

	hooks := &lpr.Hooks{Pool: pool}

	// Admin surface
	tokenMgr := tokens.NewManager(jwtKey)
	blacklist := auth.NewRedisBlacklist(rdb)
	limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATELIMIT_SALT"))

	var presigner api.Presigner
	var uploader api.ProfileUploader
	if blobs != nil {
		presigner = blobs
		uploader = blobs
	}

	router := api.NewRouter(api.Handlers{
		LPRs:    &api.LPRHandler{Store: lprs, Hooks: hooks, Commands: pool, Status: statusReporter},
		Cameras: &api.CameraHandler{Store: cameras, Hooks: hooks},
		Sites:   &api.SiteHandler{Buildings: buildings, Gates: gates},
		Traffic: &api.TrafficHandler{Store: traffic, Blobs: presigner},
		Users:   &api.UserHandler{Store: users, Blobs: uploader},
		Auth:    &api.AuthHandler{Users: users, Tokens: tokenMgr, Blacklist: blacklist},
		WS:      &api.WSHandler{Tokens: tokenMgr, Bridge: eventBridge},
		Health:  &api.HealthHandler{DB: db, Redis: rdb},

		JWT:       middleware.NewJWTAuth(tokenMgr, blacklist),
		RateLimit: middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit.GlobalIP.toLimit(), cfg.RateLimit.Login.toLimit()),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.std(),
		WriteTimeout: cfg.Server.WriteTimeout.std(),
	}

	go func() {
		log.Printf("[INFO] %s listening on %s", serviceName, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] HTTP server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("[INFO] Shutdown requested")

	// Drain device sessions first so in-flight frames land, then stop the
	// HTTP surface and the ingest consumer.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Gateway.DrainDeadline.std()+5*time.Second)
	defer drainCancel()

	if err := pool.Shutdown(drainCtx); err != nil {
		log.Printf("[WARN] Pool shutdown: %v", err)
	}
	if err := server.Shutdown(drainCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}
	writer.Stop()
	nc.Drain()
	tlsProvider.Close()

	log.Println("[INFO] Server stopped gracefully")
}

// deviceStoreWithToken falls back to the shared LPR_AUTH_TOKEN when a
// device record carries no token of its own.
type deviceStoreWithToken struct {
	data.LPRModel
	token string
}

func (s deviceStoreWithToken) GetByID(ctx context.Context, id int64) (*data.LPR, error) {
	l, err := s.LPRModel.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.AuthToken == "" {
		l.AuthToken = s.token
	}
	return l, nil
}
