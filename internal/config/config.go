package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends selectable with READIMAD_LEDGER_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultSeedRedeemed is the dev fixture: authentic but already sold.
const DefaultSeedRedeemed = "SN-789-XYZ"

type Config struct {
	HTTPAddr string
	GRPCAddr string // "" disables the gRPC health listener

	Env string // "dev" | "prod"

	// Ledger
	LedgerBackend string // "memory" | "sqlite" | "redis"
	DBPath        string // e.g. "./data/readimad.db"
	RedisURL      string
	LedgerShards  int
	LedgerTimeout time.Duration
	MaxBatchSize  int

	// Audit retention
	EventRetentionDays int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)

	// Dev only: registered and then redeemed at startup.
	SeedRedeemed []string
}

func FromEnv() Config {
	addr := getenvDefault("READIMAD_HTTP_ADDR", ":8080")

	grpcAddr, ok := os.LookupEnv("READIMAD_GRPC_ADDR")
	if !ok {
		grpcAddr = ":9090"
	}
	grpcAddr = strings.TrimSpace(grpcAddr)

	env := strings.ToLower(getenvDefault("READIMAD_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	backend := strings.ToLower(getenvDefault("READIMAD_LEDGER_BACKEND", BackendMemory))
	switch backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		backend = BackendMemory
	}

	seedDefault := ""
	if env == "dev" {
		seedDefault = DefaultSeedRedeemed
	}
	seed, ok := os.LookupEnv("READIMAD_SEED_REDEEMED")
	if !ok {
		seed = seedDefault
	}
	if env != "dev" {
		seed = ""
	}

	return Config{
		HTTPAddr: addr,
		GRPCAddr: grpcAddr,
		Env:      env,

		LedgerBackend: backend,
		DBPath:        getenvDefault("READIMAD_DB_PATH", "./data/readimad.db"),
		RedisURL:      getenvDefault("READIMAD_REDIS_URL", "redis://localhost:6379/0"),
		LedgerShards:  getenvInt("READIMAD_LEDGER_SHARDS", 64),
		LedgerTimeout: time.Duration(getenvInt("READIMAD_LEDGER_TIMEOUT_MS", 3000)) * time.Millisecond,
		MaxBatchSize:  getenvInt("READIMAD_MAX_BATCH_SIZE", 10000),

		EventRetentionDays: getenvInt("READIMAD_EVENT_RETENTION_DAYS", 90),
		PruneIntervalHours: getenvInt("READIMAD_PRUNE_INTERVAL_HOURS", 6),

		SeedRedeemed: splitCSV(seed),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
