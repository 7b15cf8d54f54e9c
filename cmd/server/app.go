package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"skillproof/internal/audit"
	auditmetrics "skillproof/internal/audit/metrics"
	"skillproof/internal/audit/outbox"
	"skillproof/internal/chain"
	chainmetrics "skillproof/internal/chain/metrics"
	"skillproof/internal/platform/config"
	"skillproof/internal/platform/kafka"
	"skillproof/internal/platform/lock"
	"skillproof/internal/platform/metrics"
	"skillproof/internal/platform/postgres"
	"skillproof/internal/platform/redis"
	"skillproof/internal/profile"
	profilehandler "skillproof/internal/profile/handler"
	profileservice "skillproof/internal/profile/service"
	profilestore "skillproof/internal/profile/store"
	skillhandler "skillproof/internal/skill/handler"
	skillservice "skillproof/internal/skill/service"
	skillstore "skillproof/internal/skill/store"
	verificationhandler "skillproof/internal/verification/handler"
	verificationmetrics "skillproof/internal/verification/metrics"
	verificationservice "skillproof/internal/verification/service"
	verificationstore "skillproof/internal/verification/store"
	"skillproof/pkg/platform/circuit"
	"skillproof/pkg/platform/httputil"
	"skillproof/pkg/platform/middleware/metadata"
	"skillproof/pkg/platform/middleware/requesttime"
	txcontext "skillproof/pkg/platform/tx"
)

type profileStore interface {
	profile.Store
	profileservice.Store
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	skills        skillservice.Store
	verifications verificationservice.Store
	profiles      profileStore
	tx            verificationservice.StoreTx
	outbox        *outbox.PostgresStore
}

type app struct {
	log      *slog.Logger
	router   http.Handler
	db       *sql.DB
	redis    *redis.Client
	rpc      *ethclient.Client
	producer *kafka.Producer
	relay    *outbox.Worker
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	locker, err := a.openLocker(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	minter, err := a.openChain(ctx, cfg, reg, locker)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if st.outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		if err := a.openRelay(cfg, reg, st.outbox); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	skillSvc := skillservice.New(st.skills, skillservice.WithLogger(log))
	verificationSvc := verificationservice.New(
		st.verifications,
		st.tx,
		minter,
		skillSvc,
		profile.NewAggregator(profile.WithLogger(log)),
		verificationservice.WithLogger(log),
		verificationservice.WithMetrics(verificationmetrics.New(reg)),
		verificationservice.WithLocker(locker),
		verificationservice.WithDefaultScore(cfg.Verification.DefaultScore),
		verificationservice.WithMaxScore(cfg.Verification.MaxScore),
		verificationservice.WithMetadataPrefix(cfg.Verification.MetadataURIPrefix),
		verificationservice.WithMintTimeout(minter.MintTimeout()),
	)
	profileSvc := profileservice.New(st.profiles, verificationSvc, profileservice.WithLogger(log))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(metadata.RequestMetadata)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(metrics.NewHTTP(reg).Middleware)

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	skillhandler.New(skillSvc, log).Register(r)
	verificationhandler.New(verificationSvc, log, cfg.Verification.MetadataURIPrefix).Register(r)
	profilehandler.New(profileSvc, log).Register(r)

	a.router = cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(r)
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.Database.URL == "" {
		verifications := verificationstore.NewInMemory()
		profiles := profilestore.NewInMemory()
		return &stores{
			skills:        skillstore.NewInMemory(),
			verifications: verifications,
			profiles:      profiles,
			tx: verificationservice.NewShardedTx(verificationservice.TxStores{
				Verifications: verifications,
				Profiles:      profiles,
				Audit:         audit.NewInMemoryStore(),
			}),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	verifications := verificationstore.NewPostgres(db)
	profiles := profilestore.NewPostgres(db)
	events := outbox.NewPostgres(db)
	return &stores{
		skills:        skillstore.NewPostgres(db),
		verifications: verifications,
		profiles:      profiles,
		tx: newVerificationPostgresTx(db, verificationservice.TxStores{
			Verifications: verifications,
			Profiles:      profiles,
			Audit:         events,
		}, cfg.Database.TxTimeout),
		outbox: events,
	}, nil
}

// openLocker picks the Redis locker when Redis is configured so replicas
// sharing a database also share per-request and per-signer locks.
func (a *app) openLocker(ctx context.Context, cfg config.Config) (lock.Locker, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return lock.NewKeyed(), nil
	}
	a.redis = client
	return lock.NewRedis(client.Client, cfg.Redis.LockTTL, lock.WithKeyPrefix("skillproof:lock:")), nil
}

func (a *app) openChain(ctx context.Context, cfg config.Config, reg prometheus.Registerer, locker lock.Locker) (*chain.Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	a.rpc = rpc

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.New("chain.private_key is not a valid secp256k1 key")
	}
	var chainID *big.Int
	network := "auto"
	if cfg.Chain.ChainID > 0 {
		chainID = big.NewInt(cfg.Chain.ChainID)
		network = strconv.FormatInt(cfg.Chain.ChainID, 10)
	}

	m := chainmetrics.New(reg, network)
	client, err := chain.New(ctx,
		chain.NewObservedBackend(rpc, m),
		common.HexToAddress(cfg.Chain.ContractAddress),
		key,
		chainID,
		chain.WithLocker(locker),
		chain.WithLogger(a.log),
		chain.WithGasLimit(cfg.Chain.GasLimit),
		chain.WithConfirmTimeout(cfg.Chain.ConfirmTimeout),
		chain.WithSubmitTimeout(cfg.Chain.SubmitTimeout),
		chain.WithSubmitRate(cfg.Chain.SubmitRate),
		chain.WithObserver(m),
		chain.WithBreaker(newChainBreaker(cfg.Chain)),
	)
	if err != nil {
		return nil, err
	}
	a.log.Info("chain client ready",
		"signer", client.From().Hex(),
		"contract", cfg.Chain.ContractAddress,
		"confirm_timeout", client.ConfirmTimeout(),
		"mint_timeout", client.MintTimeout(),
	)
	return client, nil
}

func (a *app) openRelay(cfg config.Config, reg prometheus.Registerer, store *outbox.PostgresStore) error {
	producer, err := kafka.NewProducer(cfg.Kafka, a.log)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	a.producer = producer
	db := a.db
	a.relay = outbox.NewWorker(store, producer,
		outbox.WithTopic(cfg.Kafka.Topic),
		outbox.WithBatchSize(cfg.Kafka.BatchSize),
		outbox.WithPollInterval(cfg.Kafka.PollInterval),
		outbox.WithRetention(cfg.Kafka.Retention, cfg.Kafka.PruneEvery),
		outbox.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return txcontext.Run(ctx, db, fn)
		}),
		outbox.WithMetrics(auditmetrics.New(reg)),
		outbox.WithLogger(a.log),
	)
	return nil
}

func (a *app) start(ctx context.Context) {
	if a.relay != nil {
		a.relay.Start(ctx)
	}
}

// close stops the relay and releases connections, most dependent first.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Stop(ctx))
	}
	if a.producer != nil {
		errs = append(errs, a.producer.Close(ctx))
	}
	if a.rpc != nil {
		a.rpc.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, err error) {
		if err != nil {
			a.log.WarnContext(ctx, "health check failed", "component", name, "error", err)
			checks[name] = "down"
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if a.db != nil {
		check("postgres", a.db.PingContext(ctx))
	}
	if a.redis != nil {
		check("redis", a.redis.Health(ctx))
	}
	if a.producer != nil {
		check("kafka", a.producer.Ping(ctx))
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	httputil.WriteJSON(w, status, body)
}

// newChainBreaker returns nil when disabled, which chain.WithBreaker accepts.
func newChainBreaker(cfg config.Chain) *circuit.Breaker {
	if cfg.BreakerFailures <= 0 {
		return nil
	}
	return circuit.New("chain-rpc",
		circuit.WithFailureThreshold(cfg.BreakerFailures),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
}
