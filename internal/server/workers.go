package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/circulation"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/clients"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
)

// CatalogPageSize is how many volumes one sync pass requests.
const CatalogPageSize = 40

// ConsistencyInterval is how often the ledger invariants are checked.
const ConsistencyInterval = 15 * time.Minute

// Sender picks SMTP delivery when credentials are configured and logs the
// mail otherwise.
func (a *App) Sender() mail.Sender {
	if a.Config.Email.Password == "" {
		return mail.LogSender{Logger: a.Logger}
	}
	e := a.Config.Email
	return mail.NewSMTPSender(e.Host, e.Port, e.User, e.Password)
}

// Dispatcher delivers the outbox through Sender.
func (a *App) Dispatcher() *mail.Dispatcher {
	return mail.NewDispatcher(a.DB, a.Sender(), a.Logger)
}

// Syncer imports books from the configured catalog API.
func (a *App) Syncer() *catalog.Syncer {
	source := clients.NewGoogleBooks(a.Config.GoogleBooksURL, a.Config.GoogleBooksAPIKey, &http.Client{Timeout: 30 * time.Second})
	return catalog.NewSyncer(a.DB, source, a.Config.MediaDir, a.Logger)
}

// Run starts the background workers and blocks until ctx is done and every
// worker has returned. Catalog sync only runs when an interval is set.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Logger.Info("worker started", "worker", name)
			fn(ctx)
			a.Logger.Info("worker stopped", "worker", name)
		}()
	}

	start("notification-hub", a.Hub.Run)
	start("mail-dispatcher", func(ctx context.Context) {
		a.Dispatcher().Run(ctx, a.Config.MailPollInterval)
	})
	start("due-soon-reminders", func(ctx context.Context) {
		circulation.RunReminders(ctx, a.Circulation, a.Config.ReminderInterval, a.Logger)
	})
	start("consistency-checker", func(ctx context.Context) {
		a.Checker.Run(ctx, ConsistencyInterval)
	})
	if a.Config.CatalogSyncInterval > 0 {
		start("catalog-sync", func(ctx context.Context) {
			a.Syncer().Run(ctx, a.Config.CatalogSyncInterval, CatalogPageSize)
		})
	}
	wg.Wait()
}
