package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/config"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/core/worker"
	badgerstore "github.com/vietddude/txrecover/internal/infra/badger"
	"github.com/vietddude/txrecover/internal/infra/directory"
	"github.com/vietddude/txrecover/internal/infra/enclave"
	"github.com/vietddude/txrecover/internal/infra/p2p"
	redisclient "github.com/vietddude/txrecover/internal/infra/redis"
	"github.com/vietddude/txrecover/internal/infra/security"
	"github.com/vietddude/txrecover/internal/infra/storage"
	"github.com/vietddude/txrecover/internal/infra/storage/memory"
	"github.com/vietddude/txrecover/internal/infra/storage/postgres"
	"github.com/vietddude/txrecover/internal/resync/recovery"
	"github.com/vietddude/txrecover/internal/resync/staging"
)

// Node owns every component of a recovery node and their lifecycle.
type Node struct {
	cfg        *config.AppConfig
	enclave    *enclave.Local
	txRepo     storage.EncryptedTransactionRepository
	staging    *staging.Store
	manager    *recovery.Manager
	client     p2p.Client
	server     *p2p.Server
	grpcServer *p2p.GRPCServer
	pruner     *worker.Pruner

	db          *postgres.DB
	redisClient *redisclient.Client
	badgerDB    *badger.DB
	grpcClient  *p2p.GRPCClient
	log         *slog.Logger
}

// NewNode creates a Node with all dependencies initialized.
func NewNode(ctx context.Context, cfg *config.AppConfig) (*Node, error) {
	n := &Node{cfg: cfg, log: slog.Default()}

	// 1. Keys
	n.enclave = enclave.NewLocal()
	for i, k := range cfg.Keys {
		kp, err := enclave.ParseKeyPair(k.Public, k.Private)
		if err != nil {
			return nil, fmt.Errorf("failed to parse keys[%d]: %w", i, err)
		}
		n.enclave.Add(kp)
	}

	// 2. Storage
	store := memory.NewMemoryStorage()
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		n.db = db
		if err := db.Migrate(); err != nil {
			n.closeBackends()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		n.txRepo = postgres.NewTxRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		n.txRepo = memory.NewTxRepo(store)
		slog.Info("Using Memory storage")
	}

	stagingRepo, err := n.openStaging(ctx, store)
	if err != nil {
		n.closeBackends()
		return nil, err
	}
	n.staging = staging.NewStore(stagingRepo)

	// 3. Transport
	clientTLS, err := security.ClientTLSConfig(cfg.Transport.TLS)
	if err != nil {
		n.closeBackends()
		return nil, err
	}
	if cfg.Transport.Protocol == "grpc" {
		n.grpcClient = p2p.NewGRPCClient(clientTLS)
		n.client = n.grpcClient
	} else {
		n.client = p2p.NewRESTClient(cfg.Transport.Timeout, clientTLS)
	}
	publisher := p2p.NewPublisher(n.client, cfg.Transport.Protocol,
		p2p.WithRateLimit(cfg.Resend.PublishRate, cfg.Resend.PublishBurst),
		p2p.WithTimeout(cfg.Resend.PublishTimeout),
	)

	// 4. Recovery
	dir, err := buildDirectory(cfg)
	if err != nil {
		n.closeBackends()
		return nil, err
	}
	workflow := recovery.NewWorkflow(n.enclave, dir, publisher)
	n.manager = recovery.NewManager(n.txRepo, n.staging, workflow,
		recovery.WithPageSize(cfg.Resend.PageSize),
		recovery.WithConcurrency(cfg.Resend.Concurrency),
	)

	// 5. Servers
	serverTLS, err := security.ServerTLSConfig(cfg.Server.TLS)
	if err != nil {
		n.closeBackends()
		return nil, err
	}
	n.server = p2p.NewServer(n.manager, n.staging, cfg.Server.Port, serverTLS)
	n.server.AddHealthCheck("enclave", n.enclave.Status)
	if n.db != nil {
		n.server.AddHealthCheck("database", n.db.Health)
	}
	if n.redisClient != nil {
		n.server.AddHealthCheck("redis", n.redisClient.Health)
	}
	if cfg.Transport.Protocol == "grpc" {
		n.grpcServer = p2p.NewGRPCServer(n.manager, cfg.Transport.GRPCPort, serverTLS)
	}

	n.pruner = worker.NewPruner(cfg.Staging, n.staging)
	if n.redisClient != nil {
		n.pruner.SetLocker(n.redisClient)
	}
	return n, nil
}

func (n *Node) openStaging(ctx context.Context, store *memory.MemoryStorage) (storage.StagingRepository, error) {
	switch n.cfg.Staging.Backend {
	case "postgres":
		if n.db == nil {
			return nil, errors.New("staging backend postgres requires database.url")
		}
		return postgres.NewStagingRepo(n.db), nil
	case "redis":
		client, err := redisclient.NewClient(ctx, n.cfg.Staging.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		n.redisClient = client
		slog.Info("Using Redis staging", "prefix", n.cfg.Staging.Redis.KeyPrefix)
		return redisclient.NewStagingRepo(client, n.cfg.Staging.Redis.KeyPrefix), nil
	case "badger":
		db, err := badgerstore.Open(n.cfg.Staging.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
		n.badgerDB = db
		slog.Info("Using Badger staging", "path", n.cfg.Staging.BadgerPath)
		return badgerstore.NewStagingRepo(db), nil
	default:
		return memory.NewStagingRepo(store), nil
	}
}

func buildDirectory(cfg *config.AppConfig) (directory.Directory, error) {
	static := make(directory.Static, len(cfg.Peers))
	for i, p := range cfg.Peers {
		key, err := domain.ParsePublicKey(p.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse peers[%d].key: %w", i, err)
		}
		static[key] = p.URL
	}
	if cfg.Directory.URL == "" {
		return static, nil
	}

	remote := directory.NewHTTP(cfg.Directory.URL, nil)
	return directory.Chain{static, directory.NewCached(remote, cfg.Directory.CacheTTL)}, nil
}

// Start starts the servers and background workers. It does not block.
func (n *Node) Start(ctx context.Context) error {
	go func() {
		if err := n.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("HTTP server failed", "error", err)
		}
	}()
	n.log.Info("HTTP server started", "port", n.cfg.Server.Port)

	if n.grpcServer != nil {
		go func() {
			if err := n.grpcServer.Start(); err != nil {
				n.log.Error("gRPC server failed", "error", err)
			}
		}()
		n.log.Info("gRPC server started", "port", n.cfg.Transport.GRPCPort)
	}

	if n.db != nil {
		n.db.StartMetricsCollector(ctx)
	}

	go n.pruner.Start(ctx)
	return nil
}

// Stop stops the servers and closes storage.
func (n *Node) Stop(ctx context.Context) error {
	n.log.Info("Stopping node...")

	var firstErr error
	if n.grpcServer != nil {
		if err := n.grpcServer.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if err := n.server.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if n.grpcClient != nil {
		n.grpcClient.Close()
	}
	n.closeBackends()
	return firstErr
}

func (n *Node) closeBackends() {
	if n.redisClient != nil {
		if err := n.redisClient.Close(); err != nil {
			n.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if n.badgerDB != nil {
		if err := n.badgerDB.Close(); err != nil {
			n.log.Warn("Failed to close Badger", "error", err)
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.log.Warn("Failed to close database", "error", err)
		}
	}
}

// Durable reports whether stored records outlive the process.
func (n *Node) Durable() bool { return n.db != nil }

// Manager returns the recovery manager.
func (n *Node) Manager() *recovery.Manager { return n.manager }

// Client returns the peer client matching the configured protocol.
func (n *Node) Client() p2p.Client { return n.client }

// Enclave returns the node's key holder.
func (n *Node) Enclave() *enclave.Local { return n.enclave }

// Submit seals plaintext for the recipients and stores it as a new record.
func (n *Node) Submit(
	ctx context.Context,
	plaintext []byte,
	sender domain.PublicKey,
	recipients []domain.PublicKey,
) (domain.ContentHash, error) {
	env, err := n.enclave.Seal(plaintext, sender, recipients)
	if err != nil {
		return domain.ContentHash{}, fmt.Errorf("failed to seal payload: %w", err)
	}
	hash, err := env.Hash()
	if err != nil {
		return domain.ContentHash{}, err
	}

	rec := &domain.EncryptedRecord{
		Hash:      hash,
		Payload:   codec.Encode(env),
		CreatedAt: time.Now(),
	}
	if err := n.txRepo.Save(ctx, rec); err != nil {
		return domain.ContentHash{}, fmt.Errorf("failed to store record: %w", err)
	}
	slog.Debug("Stored record", "hash", hash.String(), "recipients", len(recipients))
	return hash, nil
}
