package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"skillbot/internal/config"
	"skillbot/internal/memory"
	"skillbot/internal/schema"
)

// doctorReport counts check outcomes and prints one line per check.
type doctorReport struct {
	out                    io.Writer
	passed, failed, warned int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, database, catalog, LLM provider and
channels are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "skillbot doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{out: out}
			runChecks(r, resolveConfigPath())

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running skillbot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Fprintf(out, "\nskillbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! skillbot is ready to run.\n")
			}
			return nil
		},
	}
}

func runChecks(r *doctorReport, cfgPath string) {
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn("Config file", fmt.Sprintf("not found at %s (using defaults)", cfgPath))
	} else {
		r.pass("Config file", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return
	}
	r.pass("Config validation", "valid")

	if err := checkDatabase(cfg.Storage.DBPath); err != nil {
		r.fail("Database", err.Error())
	} else {
		r.pass("Database", cfg.Storage.DBPath)
	}

	if catalog, err := schema.Load(cfg.Catalog.Dir, logger); err != nil {
		r.fail("Catalog", err.Error())
	} else {
		r.pass("Catalog", fmt.Sprintf("%d domains, %d actions", len(catalog.Domains()), len(catalog.Schemas())))
	}

	switch {
	case !cfg.LLM.Enabled:
		r.warn("LLM", "disabled (keyword routing and templated replies only)")
	case cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "":
		r.warn("LLM: "+cfg.LLM.Provider, "enabled but no API key/base configured")
	default:
		r.pass("LLM: "+cfg.LLM.Provider, fmt.Sprintf("%s, %d fallback(s)", cfg.LLM.Model, len(cfg.LLM.Fallbacks)))
	}

	if err := checkPort(cfg.Server.Addr()); err != nil {
		r.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
	} else {
		r.pass("Server port", cfg.Server.Addr()+" available")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			r.fail("Telegram", "enabled but no token configured")
		} else if len(cfg.Telegram.AllowFrom) == 0 {
			r.warn("Telegram", "no allow_from list, every user may chat")
		} else {
			r.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Telegram.AllowFrom)))
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.Log.File)
		}
	}
}

// checkDatabase opens the store, runs migrations and proves it is writable.
func checkDatabase(dbPath string) error {
	db, err := memory.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
