package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/carrier"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/handler"
	"wallet-auth-service/internal/ipcheck"
	"wallet-auth-service/internal/limiter"
	redisrepo "wallet-auth-service/internal/repository/redis"
	"wallet-auth-service/internal/repository/scylla"
	"wallet-auth-service/internal/service"
	"wallet-auth-service/internal/sms"
	"wallet-auth-service/internal/tls"
	"wallet-auth-service/internal/token"
	"wallet-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Domain components
	bucketingManager *bucketing.Manager
	limiterEngine    *limiter.Engine
	ipGate           *ipcheck.Gate
	smsRegistry      *sms.Registry
	carrierClient    *carrier.Client
	tokenSigner      *token.Signer
	auditPublisher   *audit.Publisher

	// Repositories and services
	phoneCodeRepository scylla.PhoneCodeRepository
	userRepository      scylla.UserRepository
	authService         *service.AuthService

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("network", cfg.Network),
		util.String("sms_provider", cfg.SMSProvider),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis backs the rate limiter counters and is always required.
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB holds verification codes and users.
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Audit sinks are optional; the service degrades to log-only audit.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without it", util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without it", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeComponents wires repositories and domain services on top of
// the clients.
func (f *Factory) initializeComponents() error {
	cfg := f.config

	// The limiter and repositories cannot run without their backends, so
	// a missing Redis or Scylla client is fatal in every environment.
	if f.redisClient == nil {
		return fmt.Errorf("redis client is required but was not initialized")
	}
	if f.scyllaClient == nil {
		return fmt.Errorf("scylla client is required but was not initialized")
	}

	f.bucketingManager = bucketing.NewManager(cfg.Bucketing)
	f.limiterEngine = limiter.NewEngine(redisrepo.NewCounterCache(f.redisClient), cfg.Limits)
	f.ipGate = ipcheck.NewGate(cfg.IPCheck)

	twilioConfig := cfg.Twilio
	if twilioConfig.StatusCallback == "" && cfg.Server.Domain != "" {
		twilioConfig.StatusCallback = fmt.Sprintf("https://%s/twilioMessageStatus", cfg.Server.Domain)
	}
	f.smsRegistry = sms.NewRegistry(
		sms.NewTwilioProvider(twilioConfig),
		sms.NewSMSalaProvider(cfg.SMSala),
	)
	if _, ok := f.smsRegistry.Get(cfg.SMSProvider); !ok {
		return fmt.Errorf("configured sms provider %q is not registered", cfg.SMSProvider)
	}

	f.carrierClient = carrier.NewClient(cfg.Twilio)

	signer, err := token.NewSigner(cfg.JWT)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}
	f.tokenSigner = signer

	f.auditPublisher = audit.NewPublisher(cfg, f.kafkaProducer, f.clickhouseClient, f.esClient, f.bucketingManager)

	f.phoneCodeRepository = scylla.NewPhoneCodeRepository(f.scyllaClient)
	f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager)

	f.authService = service.NewAuthService(
		cfg,
		f.limiterEngine,
		f.ipGate,
		f.phoneCodeRepository,
		f.userRepository,
		f.smsRegistry,
		f.carrierClient,
		f.tokenSigner,
		f.auditPublisher,
	)

	return nil
}

// HealthCheck probes the required backends concurrently. Optional audit
// sinks do not participate; their absence is already tolerated.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			return fmt.Errorf("redis client not initialized")
		}
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			return fmt.Errorf("scylla client not initialized")
		}
		if err := f.scyllaClient.HealthCheck(); err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

// Router builds the HTTP surface bound to this factory's services.
func (f *Factory) Router() http.Handler {
	authHandler := handler.NewAuthHandler(f.authService, util.Get())
	return handler.NewRouter(authHandler, f.HealthCheck, util.Get())
}
