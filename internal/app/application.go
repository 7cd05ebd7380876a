// Package app wires the node's core components together: key material,
// the session layer, the artifact planner, the job scheduler, the result
// store, and the task-capability registry, bound to a repository set and
// managed through a single lifecycle.
package app

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/fedmesh/node/internal/config"
	"github.com/fedmesh/node/internal/corekit"
	cryptox "github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/httpapi"
	"github.com/fedmesh/node/internal/planner"
	"github.com/fedmesh/node/internal/registry"
	"github.com/fedmesh/node/internal/resultstore"
	"github.com/fedmesh/node/internal/scheduler"
	"github.com/fedmesh/node/internal/session"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/internal/storage/memory"
	"github.com/fedmesh/node/internal/system"
	"github.com/fedmesh/node/pkg/logger"
)

// keyStoreKey is the KeyValueStore key this node's own PEM-encoded private
// key is persisted under, so its identity survives a restart.
const keyStoreKey = "node.private_key"

// blobKeyStoreKey is the KeyValueStore key the result store's at-rest blob
// encryption secret is persisted under.
const blobKeyStoreKey = "node.blob_master_key"

// blobMasterKeySize is the length, in bytes, of the generated blob
// encryption secret (used as HKDF input key material, not directly as an
// AES key).
const blobMasterKeySize = 32

// Application bundles every wired component and the system.Manager that
// owns their lifecycle. Attach additional services (the HTTP server)
// before calling Start.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Session   *session.Service
	Planner   *planner.Planner
	Scheduler *scheduler.Scheduler
	Results   *resultstore.Store
	Registry  *registry.Registry
	Stores    storage.Stores
}

// New loads or generates this node's RSA keypair, wires the session,
// planner, scheduler, result store and capability registry against stores,
// and registers the job scheduler with the lifecycle manager.
func New(cfg *config.Config, stores storage.Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Components == nil {
		stores = memory.New()
	}

	priv, err := loadOrGenerateKey(context.Background(), stores.KV, cfg.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("load node key: %w", err)
	}
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal node public key: %w", err)
	}

	blobKey, err := loadOrGenerateBlobKey(context.Background(), stores.KV)
	if err != nil {
		return nil, fmt.Errorf("load blob encryption key: %w", err)
	}

	sess := session.NewService(priv, pubPEM, cfg.TokenExpiration, stores.Components, stores.Tokens)
	pl := planner.New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	results := resultstore.New(cfg.WorkDir, blobKey)
	reg := registry.New()

	sched := scheduler.New(stores.Jobs, stores.Results, stores.Artifacts, pl, log, cfg.HeartbeatInterval, cfg.JobLeaseDuration)
	sched.WithTracer(corekit.NoopTracer)

	manager := system.NewManager()
	manager.Register(sched)

	return &Application{
		manager:   manager,
		log:       log,
		Session:   sess,
		Planner:   pl,
		Scheduler: sched,
		Results:   results,
		Registry:  reg,
		Stores:    stores,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(svc system.Service) {
	a.manager.Register(svc)
}

// Start begins every registered service, including the job scheduler's
// lease-reclaim loop and (once attached) the HTTP server.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every started service in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// HTTPDeps bundles this application's wired components into the shape the
// httpapi package's route table expects.
func (a *Application) HTTPDeps() httpapi.Deps {
	return httpapi.Deps{
		Session:   a.Session,
		Planner:   a.Planner,
		Scheduler: a.Scheduler,
		Results:   a.Results,
		Registry:  a.Registry,
		Stores:    a.Stores,
		Log:       a.log,
	}
}

// loadOrGenerateKey returns this node's persisted keypair, or generates and
// persists a new one the first time the node starts.
func loadOrGenerateKey(ctx context.Context, kv storage.KeyValueStore, bits int) (*rsa.PrivateKey, error) {
	if kv != nil {
		if data, ok, err := kv.Get(ctx, keyStoreKey); err != nil {
			return nil, err
		} else if ok {
			return cryptox.ParsePrivateKeyPEM(data)
		}
	}

	if bits < 2048 {
		bits = 4096
	}
	priv, err := cryptox.GenerateKeyPair(bits)
	if err != nil {
		return nil, fmt.Errorf("generate node keypair: %w", err)
	}

	if kv != nil {
		pemBytes, err := cryptox.MarshalPrivateKeyPEM(priv)
		if err != nil {
			return nil, err
		}
		if err := kv.Set(ctx, keyStoreKey, pemBytes); err != nil {
			return nil, fmt.Errorf("persist node keypair: %w", err)
		}
	}
	return priv, nil
}

// loadOrGenerateBlobKey returns this node's persisted result-blob encryption
// secret, or generates and persists a new one the first time the node
// starts. The returned bytes are HKDF input key material (see
// resultstore.Store.blobKey), never used directly as an AES key.
func loadOrGenerateBlobKey(ctx context.Context, kv storage.KeyValueStore) ([]byte, error) {
	if kv != nil {
		if data, ok, err := kv.Get(ctx, blobKeyStoreKey); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}
	}

	key, err := cryptox.GenerateRandomBytes(blobMasterKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate blob encryption key: %w", err)
	}
	if kv != nil {
		if err := kv.Set(ctx, blobKeyStoreKey, key); err != nil {
			return nil, fmt.Errorf("persist blob encryption key: %w", err)
		}
	}
	return key, nil
}
