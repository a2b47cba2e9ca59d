package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/convogate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and upstream connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("convogate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Storage:  %s\n", cfg.Database.Mode)
	fmt.Printf("  Hours:    %s, %d windows\n", cfg.Hours.Timezone, len(cfg.Hours.Windows))
	fmt.Printf("  Resume:   %q\n", cfg.Pause.ResumeCommand)
	fmt.Println()

	secret := func(name, v string) {
		if v == "" {
			fmt.Printf("  %-28s (not set)\n", name)
		} else {
			fmt.Printf("  %-28s set\n", name)
		}
	}
	secret("CONVOGATE_WEBHOOK_TOKEN", cfg.Gateway.WebhookToken)
	secret("CONVOGATE_MIRROR_TOKEN", cfg.Mirror.Token)
	secret("CONVOGATE_RESPONDER_TOKEN", cfg.Responder.Token)
	fmt.Println()

	// Probe every upstream concurrently; each check has its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		name   string
		detail string
		err    error
	}
	results := make([]result, 0, 4)
	var g errgroup.Group
	resCh := make(chan result, 4)

	if cfg.Database.Mode == "postgres" {
		g.Go(func() error {
			resCh <- result{name: "Postgres", err: pingPostgres(ctx, cfg.Database.PostgresDSN)}
			return nil
		})
	}
	if cfg.Bridge.URL != "" {
		g.Go(func() error {
			resCh <- result{name: "Bridge", detail: cfg.Bridge.URL, err: probeHTTP(ctx, wsToHTTP(cfg.Bridge.URL))}
			return nil
		})
	}
	if cfg.Mirror.BaseURL != "" {
		g.Go(func() error {
			resCh <- result{name: "Mirror", detail: cfg.Mirror.BaseURL, err: probeHTTP(ctx, cfg.Mirror.BaseURL)}
			return nil
		})
	}
	if cfg.Responder.URL != "" {
		g.Go(func() error {
			resCh <- result{name: "Responder", detail: cfg.Responder.URL, err: probeHTTP(ctx, cfg.Responder.URL)}
			return nil
		})
	}

	_ = g.Wait()
	close(resCh)
	for r := range resCh {
		results = append(results, r)
	}

	if len(results) == 0 {
		fmt.Println("  No upstreams configured.")
		return
	}
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("  %-10s FAIL  %s\n", r.name, r.err)
		} else if r.detail != "" {
			fmt.Printf("  %-10s OK    %s\n", r.name, r.detail)
		} else {
			fmt.Printf("  %-10s OK\n", r.name)
		}
	}
}

func pingPostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("CONVOGATE_POSTGRES_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

// probeHTTP treats any HTTP response as reachable; auth failures still prove
// the host is up.
func probeHTTP(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func wsToHTTP(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String()
}
