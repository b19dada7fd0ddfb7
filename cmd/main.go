package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/banamarket/auth-service/internal/app"
	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/controllers"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/services"
	"github.com/banamarket/auth-service/internal/utils"
)

func main() {
	utils.InitLogger(config.AppName)
	cfg := config.LoadConfig()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	//----------------------------------------------------------------------
	// Repositories
	//----------------------------------------------------------------------
	userRepo := repositories.NewUserRepository(application.DB)
	tokenRepo := application.TokenRepository()
	rateLimitRepo := repositories.NewRateLimitRepository(application.DB)

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	var sender services.SMSSender
	if cfg.LDFlag_SMSLogOnly || application.Twilio == nil {
		utils.Logger.Warn("SMS delivery is log-only; no text messages will be sent")
		sender = services.NewLogSMSSender()
	} else {
		sender = services.NewTwilioSMSSender(application.Twilio, cfg.LDFlag_TwilioFromPhone)
	}

	engine := services.NewOTPEngine(tokenRepo, sender, cfg, nil, nil)
	rateLimiterService := services.NewRateLimiterService(rateLimitRepo, cfg)

	signupService := services.NewSignupService(engine, userRepo, cfg, application.Twilio)
	findEmailService := services.NewFindEmailService(engine, userRepo)
	findPasswordService := services.NewFindPasswordService(
		engine,
		userRepo,
		sender,
		services.NewNoticeMailer(cfg),
		cfg,
	)

	verificationCleanupService := services.NewVerificationCleanupService(tokenRepo, nil)
	rateLimitCleanupService := services.NewRateLimitCleanupService(rateLimitRepo)

	//----------------------------------------------------------------------
	// Controllers & router
	//----------------------------------------------------------------------
	checks := []controllers.HealthCheck{{Name: "Database", Ping: application.DB.Ping}}
	if application.Redis != nil {
		checks = append(checks, controllers.HealthCheck{
			Name: "Redis",
			Ping: func(ctx context.Context) error { return application.Redis.Ping(ctx).Err() },
		})
	}

	clientIPs, err := utils.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		utils.Logger.Fatalf("Invalid trusted proxies: %v", err)
	}

	router := mux.NewRouter()
	router.Use(clientIPs.Middleware)
	controllers.RegisterRoutes(
		router,
		controllers.NewSignupController(signupService, rateLimiterService),
		controllers.NewFindAccountController(findEmailService, findPasswordService, rateLimiterService),
		controllers.NewHealthController(checks...),
	)

	//----------------------------------------------------------------------
	// Setup daily cleanup via cron
	//----------------------------------------------------------------------
	c := cron.New()

	// verification tokens
	_, schErr1 := c.AddFunc("0 3 * * *", func() {
		if e := verificationCleanupService.CleanupDaily(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled verification-token cleanup failed")
		}
	})
	if schErr1 != nil {
		utils.Logger.WithError(schErr1).Fatal("Failed to schedule verification-token cleanup job")
	}

	// rate limit counter cleanup
	_, schErr2 := c.AddFunc("10 3 * * *", func() {
		if e := rateLimitCleanupService.CleanupDaily(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled rate limit counter cleanup failed")
		}
	})
	if schErr2 != nil {
		utils.Logger.WithError(schErr2).Fatal("Failed to schedule rate limit counter cleanup job")
	}

	c.Start()
	defer c.Stop()

	allowedOrigins := []string{cfg.AppUrl}
	if !cfg.LDFlag_CORSHighSecurity {
		allowedOrigins = append(allowedOrigins, utils.CORSLowSecurityAllowedOriginLocalhost)
	}

	co := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Forwarded-For", "X-Real-IP"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      co.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SMSSendTimeout + 15*time.Second,
	}

	go func() {
		utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.WithError(err).Error("Server forced to shutdown")
	}
	utils.Logger.Info("Server exited")
}
