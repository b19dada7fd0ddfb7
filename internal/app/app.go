package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	twilio "github.com/twilio/twilio-go"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

const (
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	initialBackoff = 500 * time.Millisecond

	// Stored tokens outlive every rule that reads them by the resend window.
	tokenTTL = 24 * time.Hour
)

// App owns the process-wide clients. Redis, Dynamo and Twilio are nil unless
// the configuration needs them.
type App struct {
	Config *config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Dynamo *dynamodb.Client
	Twilio *twilio.RestClient
}

func NewApp(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var (
		err     error
		backoff = initialBackoff
	)
	for i := 1; i <= maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		a.DB, err = newDBPool(ctx, cfg.DBUrl)
		cancel()
		if err == nil {
			utils.Logger.Infof("Successfully connected to database on attempt %d", i)
			break
		}

		utils.Logger.WithError(err).Warnf(
			"Failed to connect to database on attempt %d/%d. Retrying in %v...",
			i, maxRetries, backoff,
		)

		if i == maxRetries {
			return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", maxRetries, err)
		}

		time.Sleep(backoff)
		backoff *= 2
	}

	switch cfg.TokenStore {
	case config.TokenStoreRedis:
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := a.Redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("unable to connect to redis: %w", err)
		}
		utils.Logger.Info("Connected to Redis token store")
	case config.TokenStoreDynamoDB:
		a.Dynamo, err = newDynamoClient(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		utils.Logger.Info("DynamoDB token store initialized")
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		a.Twilio = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
	}

	return a, nil
}

// TokenRepository returns the SMS token store selected by TOKEN_STORE.
func (a *App) TokenRepository() repositories.SMSTokenRepository {
	switch {
	case a.Redis != nil:
		return repositories.NewRedisSMSTokenRepository(a.Redis, tokenTTL)
	case a.Dynamo != nil:
		return repositories.NewDynamoSMSTokenRepository(a.Dynamo, a.Config.DynamoTable, tokenTTL)
	}
	return repositories.NewSMSTokenRepository(a.DB)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			utils.Logger.WithError(err).Warn("Error closing Redis client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
		utils.Logger.Info("Database connection closed.")
	}
}

// newDBPool constructs the pgx pool with production-safe settings.
func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	return pgxpool.ConnectConfig(ctx, cfg)
}

func newDynamoClient(cfg *config.Config) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoEndpoint != "" {
		// DynamoDB Local or LocalStack
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoRegion),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoEndpoint,
						SigningRegion: cfg.DynamoRegion,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoRegion))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}
