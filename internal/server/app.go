// Package server assembles the archive from configuration and runs its
// background parts (index population, inspection worker) until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/config"
	"github.com/dmitrijs2005/mediaarchive/internal/server/events"
	"github.com/dmitrijs2005/mediaarchive/internal/server/inspection"
	"github.com/dmitrijs2005/mediaarchive/internal/server/locks"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
	"github.com/dmitrijs2005/mediaarchive/internal/server/searchindex"
	"github.com/dmitrijs2005/mediaarchive/internal/server/security"
	"github.com/dmitrijs2005/mediaarchive/internal/server/services"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workflows"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workspace"
	"github.com/redis/go-redis/v9"
)

var errNoRedis = errors.New("redis address not configured")

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	index    *searchindex.BleveIndex
	rdb      redis.UniversalClient
	worker   *inspection.Worker
	delivery rewrite.URIRewriter
	archive  *services.ArchiveService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)
	app := &App{config: c, logger: logger}

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	if c.RedisAddr != "" {
		app.rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	}

	store, s3Client, err := buildBlobStore(ctx, c, logger.With("module", "blobstore"))
	if err != nil {
		app.Close()
		return nil, err
	}

	app.delivery, err = buildRewriter(c, s3Client)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.index, err = searchindex.Open(c.IndexPath, logger.With("module", "index"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("index init error: %w", err)
	}

	locker, err := buildLocker(c, app.rdb, logger.With("module", "locks"))
	if err != nil {
		app.Close()
		return nil, err
	}

	ws := workspace.New(c.FetchTimeout)
	inspector := inspection.NewInspector(ws, models.ChecksumType(c.ChecksumType), logger.With("module", "inspection"))
	inspect, worker, err := buildInspection(c, app.rdb, inspector, logger.With("module", "inspection"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.worker = worker

	var engine workflows.Engine = workflows.Disabled{}
	var publisher events.Publisher = events.Nop{}
	if app.rdb != nil {
		engine = workflows.NewRedisEngine(app.rdb, c.StreamMaxLen, logger.With("module", "workflows"))
		publisher = events.NewRedisPublisher(app.rdb, c.StreamMaxLen, logger.With("module", "events"))
	}

	archiveLogger := logger.With("module", "archive")
	// Without an external ACL source only admins may archive.
	app.archive = services.NewArchiveService(services.Dependencies{
		DB:             db,
		Repomanager:    rm,
		Versions:       services.NewVersionManager(db, rm, store, ws, archiveLogger),
		Enricher:       services.NewChecksumEnricher(inspect, c.InspectionTimeout, archiveLogger),
		Store:          store,
		Index:          app.index,
		ACLs:           security.StaticACLResolver{},
		Workflows:      engine,
		Events:         publisher,
		Locker:         locker,
		Rewriter:       app.delivery,
		SystemUserName: c.SystemUserName,
		Logger:         archiveLogger,
	})

	return app, nil
}

// Archive is the assembled archive service.
func (app *App) Archive() *services.ArchiveService {
	return app.archive
}

func buildBlobStore(ctx context.Context, c *config.Config, logger logging.Logger) (blobstore.Store, *s3.Client, error) {
	switch c.BlobBackend {
	case config.BackendFS:
		s, err := blobstore.NewFSStore(c.BlobRoot, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("blob store init error: %w", err)
		}
		return s, nil, nil
	case config.BackendS3:
		client, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("blob store init error: %w", err)
		}
		return blobstore.NewS3Store(client, c.S3Bucket, logger), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

func buildRewriter(c *config.Config, s3Client *s3.Client) (rewrite.URIRewriter, error) {
	switch c.DeliveryMode {
	case config.DeliveryBaseURL:
		return rewrite.NewBaseURLRewriter(c.DeliveryBaseURL), nil
	case config.DeliverySigned:
		return rewrite.NewSignedURLRewriter(c.DeliveryBaseURL, []byte(c.DeliverySecretKey), c.DeliveryTokenValidity), nil
	case config.DeliveryPresign:
		if s3Client == nil {
			return nil, fmt.Errorf("delivery mode %q requires the s3 blob backend", c.DeliveryMode)
		}
		return blobstore.NewPresignRewriter(s3Client, c.S3Bucket, c.DeliveryTokenValidity), nil
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", c.DeliveryMode)
	}
}

func buildLocker(c *config.Config, rdb redis.UniversalClient, logger logging.Logger) (locks.Locker, error) {
	switch c.LockBackend {
	case config.BackendLocal:
		return locks.NewKeyedMutex(), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("lock backend: %w", errNoRedis)
		}
		return locks.NewRedisLocker(rdb, c.LockTTL, logger), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
}

func buildInspection(c *config.Config, rdb redis.UniversalClient, inspector *inspection.Inspector, logger logging.Logger) (inspection.Service, *inspection.Worker, error) {
	switch c.InspectionBackend {
	case config.BackendLocal:
		return inspection.NewLocal(inspector), nil, nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("inspection backend: %w", errNoRedis)
		}
		return inspection.NewRedisClient(rdb, logger),
			inspection.NewWorker(rdb, inspector, c.InspectionResultTTL, logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown inspection backend %q", c.InspectionBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if app.config.PopulateIndex {
		if err := app.archive.PopulateIndex(ctx, app.delivery); err != nil {
			app.logger.Error(ctx, "index population failed", "error", err)
		}
	}

	var wg sync.WaitGroup

	if app.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.worker.Run(ctx); err != nil {
				app.logger.Error(ctx, err.Error())
				cancelFunc()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases every resource the app opened.
func (app *App) Close() {
	if app.index != nil {
		_ = app.index.Close()
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
