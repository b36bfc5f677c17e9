package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lancepay/lancepay-api/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port                string
	DatabaseURL         string
	RedisURL            string
	HorizonURL          string
	NetworkPassphrase   string
	USDCAssetCode       string
	USDCAssetIssuer     string
	FundingWalletSecret string
	JWTSecret           string
	JWTRefreshSecret    string
	CronSecret          string
	AppURL              string
	DelayQueueURL       string
	DelayQueueToken     string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	return &Config{
		Port:                os.Getenv("PORT"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		HorizonURL:          getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase:   getEnvOrDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		USDCAssetCode:       getEnvOrDefault("USDC_ASSET_CODE", "USDC"),
		USDCAssetIssuer:     os.Getenv("USDC_ASSET_ISSUER"),
		FundingWalletSecret: os.Getenv("STELLAR_FUNDING_WALLET_SECRET"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTRefreshSecret:    os.Getenv("JWT_REFRESH_SECRET"),
		CronSecret:          os.Getenv("CRON_SECRET"),
		AppURL:              os.Getenv("APP_URL"),
		DelayQueueURL:       os.Getenv("DELAY_QUEUE_URL"),
		DelayQueueToken:     os.Getenv("DELAY_QUEUE_TOKEN"),
	}, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Invoice{},
		&models.InvoiceCollaborator{},
		&models.EscrowEvent{},
		&models.Dispute{},
		&models.PaymentAdvance{},
		&models.SavingsGoal{},
		&models.Transaction{},
		&models.Subscription{},
		&models.ReferralEarning{},
		&models.AutoSwapRule{},
		&models.AuditLog{},
		&models.UserWebhook{},
		&models.WebhookDelivery{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
