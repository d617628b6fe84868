package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/app"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/config"
	"github.com/phillip/case-funding-ledger/models"
)

// configFromViper maps the CLI settings onto the server configuration.
func configFromViper() *config.Config {
	return &config.Config{
		StoreDriver:         viper.GetString("store.driver"),
		SQLitePath:          viper.GetString("store.sqlite_path"),
		MongoURI:            viper.GetString("mongo.uri"),
		DBName:              viper.GetString("mongo.db"),
		MongoTransactions:   viper.GetBool("mongo.transactions"),
		RedisURL:            viper.GetString("redis.url"),
		Aggregation:         viper.GetString("ledger.aggregation"),
		DefaultPayment:      viper.GetString("ledger.default_payment_method"),
		BatchStaleAfter:     viper.GetDuration("batch.stale_after"),
		KafkaBrokers:        viper.GetStringSlice("kafka.brokers"),
		KafkaTopic:          viper.GetString("kafka.topic"),
		JWTSecret:           viper.GetString("jwt.secret"),
		CloudinaryCloudName: viper.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    viper.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: viper.GetString("cloudinary.api_secret"),
		ZeptoAPIURL:         viper.GetString("zepto.api_url"),
		ZeptoAPIKey:         viper.GetString("zepto.api_key"),
		EmailFrom:           viper.GetString("zepto.from"),
		Logger:              slog.Default(),
	}
}

// openApp builds the services and returns a release func that logs close
// failures.
func openApp(ctx context.Context) (*config.Config, func(), error) {
	cfg := configFromViper()
	closeApp, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	return cfg, func() {
		if err := closeApp(context.Background()); err != nil {
			slog.Error("failed to close ledger", "error", err)
		}
	}, nil
}

// adminContext resolves the admin the command acts as: --as when set,
// otherwise the first admin in the store.
func adminContext(ctx context.Context, cfg *config.Config) (authz.Context, error) {
	if raw := viper.GetString("admin"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return authz.Context{}, fmt.Errorf("invalid --as user id: %w", err)
		}
		u, err := cfg.Store.GetUser(ctx, id)
		if err != nil {
			return authz.Context{}, fmt.Errorf("failed to load user %s: %w", raw, err)
		}
		if u.Role != models.RoleAdmin {
			return authz.Context{}, fmt.Errorf("user %s is not an admin", raw)
		}
		return authz.Admin(u.ID), nil
	}

	admins, err := cfg.Store.ListUsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		return authz.Context{}, fmt.Errorf("failed to list admins: %w", err)
	}
	if len(admins) == 0 {
		return authz.Context{}, fmt.Errorf("no admin user found, create one with 'ledgerctl users add --role admin'")
	}
	return authz.Admin(admins[0].ID), nil
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func parseObjectID(raw, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
