package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"

	"github.com/banamarket/auth-service/internal/utils"
)

// Token store backends selectable with TOKEN_STORE.
const (
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
	TokenStoreDynamoDB = "dynamodb"
)

// Config holds all application configuration, including secrets, flags, etc.
type Config struct {
	OrganizationName string
	AppName          string
	Env              string
	AppPort          string
	AppUrl           string
	DBUrl            string

	TokenStore     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string

	TwilioAccountSID  string
	TwilioAuthToken   string
	SendGridAPIKey    string
	SendGridFromEmail string
	SMSSendTimeout    time.Duration

	SMSLimitPerIPPerHour      int
	GlobalSMSLimitPerHour     int
	ConfirmLimitPerIPPerHour  int
	ConfirmLimitPerKeyPerHour int
	RateLimitWindow           time.Duration

	// Peers whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string

	// Static flags, from env or fetched once from LaunchDarkly
	LDFlag_TwilioFromPhone         string
	LDFlag_ValidatePhoneWithTwilio bool
	LDFlag_SMSLogOnly              bool
	LDFlag_CORSHighSecurity        bool
}

const (
	OrganizationName                 = utils.OrganizationName
	DefaultAppPort                   = "8080"
	DefaultSMSSendTimeout            = 10 * time.Second
	// One unit of work sends up to two messages while holding the token lock.
	MaxSMSSendTimeout                = utils.TokenLockTTL / 3
	DefaultSMSLimitPerIPPerHour      = 20
	DefaultGlobalSMSLimitPerHour     = 1000
	DefaultConfirmLimitPerIPPerHour  = 60
	DefaultConfirmLimitPerKeyPerHour = 10
	DefaultRateLimitWindow           = 1 * time.Hour
	DefaultDynamoRegion              = "ap-northeast-2"
	DefaultDynamoTable               = "sms_verification_tokens"
	LDConnectionTimeout              = 5 * time.Second
)

// Compile-time overrides via -ldflags.
var (
	AppName             = "auth-service"
	LDServerContextKey  = "auth-service"
	LDServerContextKind = "service"
)

// LoadConfig is Load for main: any error is fatal.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to load config")
	}
	return cfg
}

// Load reads configuration from the environment, preloading a .env file when
// one exists in the working directory.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	utils.Logger.Info("Loading config for app: ", AppName)

	cfg := &Config{
		OrganizationName:  OrganizationName,
		AppName:           AppName,
		Env:               envOr("ENV", "dev"),
		AppPort:           envOr("APP_PORT", DefaultAppPort),
		DBUrl:             os.Getenv("DB_URL"),
		TokenStore:        strings.ToLower(envOr("TOKEN_STORE", TokenStorePostgres)),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		DynamoEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
		DynamoRegion:      envOr("DYNAMODB_REGION", DefaultDynamoRegion),
		DynamoTable:       envOr("DYNAMODB_TABLE", DefaultDynamoTable),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail: os.Getenv("SENDGRID_FROM_EMAIL"),
		RateLimitWindow:   DefaultRateLimitWindow,

		LDFlag_TwilioFromPhone: os.Getenv("TWILIO_FROM_PHONE"),
	}
	cfg.AppUrl = envOr("APP_URL", "http://localhost:"+cfg.AppPort)

	if cfg.DBUrl == "" {
		return nil, errors.New("DB_URL env var is missing")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SMSSendTimeout, err = envDuration("SMS_SEND_TIMEOUT", DefaultSMSSendTimeout); err != nil {
		return nil, err
	}
	if cfg.SMSSendTimeout > MaxSMSSendTimeout {
		return nil, fmt.Errorf("SMS_SEND_TIMEOUT must not exceed %s", MaxSMSSendTimeout)
	}
	if cfg.SMSLimitPerIPPerHour, err = envInt("SMS_LIMIT_PER_IP_PER_HOUR", DefaultSMSLimitPerIPPerHour); err != nil {
		return nil, err
	}
	if cfg.GlobalSMSLimitPerHour, err = envInt("GLOBAL_SMS_LIMIT_PER_HOUR", DefaultGlobalSMSLimitPerHour); err != nil {
		return nil, err
	}
	if cfg.ConfirmLimitPerIPPerHour, err = envInt("CONFIRM_LIMIT_PER_IP_PER_HOUR", DefaultConfirmLimitPerIPPerHour); err != nil {
		return nil, err
	}
	if cfg.ConfirmLimitPerKeyPerHour, err = envInt("CONFIRM_LIMIT_PER_KEY_PER_HOUR", DefaultConfirmLimitPerKeyPerHour); err != nil {
		return nil, err
	}
	cfg.TrustedProxies = envList("TRUSTED_PROXIES")
	if _, err := utils.NewClientIPResolver(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	if cfg.LDFlag_ValidatePhoneWithTwilio, err = envBool("VALIDATE_PHONE_WITH_TWILIO", false); err != nil {
		return nil, err
	}
	// Without Twilio credentials codes can only be logged.
	if cfg.LDFlag_SMSLogOnly, err = envBool("SMS_LOG_ONLY", cfg.TwilioAccountSID == ""); err != nil {
		return nil, err
	}
	if cfg.LDFlag_CORSHighSecurity, err = envBool("CORS_HIGH_SECURITY", false); err != nil {
		return nil, err
	}

	switch cfg.TokenStore {
	case TokenStorePostgres:
	case TokenStoreRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("REDIS_ADDR is required when TOKEN_STORE=redis")
		}
	case TokenStoreDynamoDB:
		if cfg.DynamoTable == "" {
			return nil, errors.New("DYNAMODB_TABLE is required when TOKEN_STORE=dynamodb")
		}
	default:
		return nil, fmt.Errorf("unknown TOKEN_STORE %q", cfg.TokenStore)
	}

	if key := os.Getenv("LD_SDK_KEY"); key != "" {
		if err := applyLaunchDarklyFlags(cfg, key); err != nil {
			return nil, err
		}
	}

	if !cfg.LDFlag_SMSLogOnly && (cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.LDFlag_TwilioFromPhone == "") {
		return nil, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_PHONE are required unless sms_log_only is set")
	}
	if cfg.LDFlag_ValidatePhoneWithTwilio && cfg.TwilioAccountSID == "" {
		return nil, errors.New("validate_phone_with_twilio requires Twilio credentials")
	}

	utils.Logger.Debugf("App can be accessed at: %s", cfg.AppUrl)
	return cfg, nil
}

// applyLaunchDarklyFlags overrides env defaults with static flags fetched once.
func applyLaunchDarklyFlags(cfg *Config, sdkKey string) error {
	ldClient, err := ld.MakeClient(sdkKey, LDConnectionTimeout)
	if err != nil {
		return fmt.Errorf("create LaunchDarkly client: %w", err)
	}
	defer ldClient.Close()
	if !ldClient.Initialized() {
		return errors.New("LaunchDarkly client failed to initialize")
	}

	context := ldcontext.NewWithKind(ldcontext.Kind(LDServerContextKind), LDServerContextKey)

	if cfg.LDFlag_TwilioFromPhone, err = ldClient.StringVariation("twilio_from_phone", context, cfg.LDFlag_TwilioFromPhone); err != nil {
		return fmt.Errorf("retrieve twilio_from_phone flag: %w", err)
	}
	utils.Logger.Debugf("twilio_from_phone flag: %s", cfg.LDFlag_TwilioFromPhone)

	if cfg.LDFlag_ValidatePhoneWithTwilio, err = ldClient.BoolVariation("validate_phone_with_twilio", context, cfg.LDFlag_ValidatePhoneWithTwilio); err != nil {
		return fmt.Errorf("retrieve validate_phone_with_twilio flag: %w", err)
	}
	utils.Logger.Debugf("validate_phone_with_twilio flag: %t", cfg.LDFlag_ValidatePhoneWithTwilio)

	if cfg.LDFlag_SMSLogOnly, err = ldClient.BoolVariation("sms_log_only", context, cfg.LDFlag_SMSLogOnly); err != nil {
		return fmt.Errorf("retrieve sms_log_only flag: %w", err)
	}
	utils.Logger.Debugf("sms_log_only flag: %t", cfg.LDFlag_SMSLogOnly)

	if cfg.LDFlag_CORSHighSecurity, err = ldClient.BoolVariation("cors_high_security", context, cfg.LDFlag_CORSHighSecurity); err != nil {
		return fmt.Errorf("retrieve cors_high_security flag: %w", err)
	}
	utils.Logger.Debugf("cors_high_security flag: %t", cfg.LDFlag_CORSHighSecurity)

	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
