// Command seed logs in to a running kontakt API and fills the address book
// with generated contacts.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"kontakt.org/internal/client"
	"kontakt.org/internal/contacts"
	"kontakt.org/internal/obs"
)

func main() {
	var (
		baseURL  = flag.String("base-url", envOr("KONTAKT_BASE_URL", "http://localhost:8080"), "API base URL")
		email    = flag.String("email", os.Getenv("KONTAKT_SEED_EMAIL"), "account email (must be confirmed)")
		password = flag.String("password", os.Getenv("KONTAKT_SEED_PASSWORD"), "account password")
		count    = flag.Int("n", 10, "number of contacts to create")
		seedVal  = flag.Uint64("seed", 0, "random seed for reproducibility (0 = random)")
	)
	flag.Parse()
	logger := obs.Logger()

	if *email == "" || *password == "" {
		logger.Fatal("missing credentials: provide -email and -password")
	}
	if *seedVal == 0 {
		*seedVal = uint64(time.Now().UnixNano())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := client.New(*baseURL, client.WithRetry(500*time.Millisecond, 8))
	if _, err := api.Login(ctx, *email, *password); err != nil {
		logger.Fatal("login failed", zap.String("base_url", *baseURL), zap.Error(err))
	}

	faker := gofakeit.New(*seedVal)
	created := 0
	for i := 0; i < *count; i++ {
		c, err := api.CreateContact(ctx, client.FakeContact(faker, i))
		if errors.Is(err, contacts.ErrAlreadyExists) {
			logger.Warn("contact_exists", zap.Int("n", i))
			continue
		}
		if err != nil {
			logger.Fatal("create contact failed", zap.Int("n", i), zap.Error(err))
		}
		created++
		logger.Debug("contact_created", zap.String("id", c.ID))
	}
	logger.Info("seed_done", zap.Int("created", created), zap.Uint64("seed", *seedVal))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
