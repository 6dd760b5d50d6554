package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jnesss/proc-enforcer/binary"
	"github.com/jnesss/proc-enforcer/config"
	"github.com/jnesss/proc-enforcer/database"
	"github.com/jnesss/proc-enforcer/export"
	"github.com/jnesss/proc-enforcer/monitor"
	"github.com/jnesss/proc-enforcer/platform"
	"github.com/jnesss/proc-enforcer/policy"
	"github.com/jnesss/proc-enforcer/sigma"
	"github.com/jnesss/proc-enforcer/web"
)

const (
	userCacheSize       = 1024
	quarantineCacheSize = 4096
)

// startupError marks failures that stop the agent before the first cycle.
type startupError struct {
	err error
}

func (e startupError) Error() string { return e.err.Error() }
func (e startupError) Unwrap() error { return e.err }

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("proc-enforcer stopped")
		var se startupError
		if errors.As(err, &se) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	settings, err := config.Load()
	if err != nil {
		log.WithError(err).Error("Invalid environment")
		os.Exit(2)
	}

	cmd := &cobra.Command{
		Use:           "proc-enforcer",
		Short:         "Watch running processes, report the ones not on the allowlist and optionally kill them",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.Complete(cmd.Flags()); err != nil {
				return startupError{err}
			}
			return settings.ConfigureLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}
	settings.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, s *config.Settings) error {
	runID := uuid.NewString()
	log.WithFields(log.Fields{
		"run":      runID,
		"interval": s.Interval(),
		"enforce":  s.Enforce,
		"stealth":  s.Stealth,
	}).Info("Starting proc-enforcer")

	dir, err := platform.New()
	if err != nil {
		return startupError{fmt.Errorf("failed to open process directory: %w", err)}
	}
	sys, err := dir.SystemInfo()
	if err != nil {
		return startupError{fmt.Errorf("failed to query system info: %w", err)}
	}
	log.WithFields(log.Fields{"cpus": sys.NumCPU, "memory": sys.MemoryBytes}).Debug("System info")

	hashes := binary.NewHashCache()
	var pol monitor.Policy
	if s.Stealth {
		if s.Enforce {
			log.Warn("Enforcement is ignored in stealth mode")
		}
	} else {
		list, err := policy.LoadFile(s.AllowlistPath)
		if err != nil {
			return startupError{err}
		}
		log.WithFields(log.Fields{"file": s.AllowlistPath, "rules": list.Len()}).Info("Loaded allowlist")
		pol = policy.NewMatcher(list, hashes)
	}

	users, err := platform.NewUserCache(userCacheSize)
	if err != nil {
		return err
	}

	var (
		sinks   []monitor.Sink
		outputs []string
	)
	if s.ExportCSV != "" {
		w, err := export.OpenCSV(s.ExportCSV)
		if err != nil {
			return err
		}
		defer w.Close()
		sinks = append(sinks, w)
		outputs = append(outputs, s.ExportCSV)
	}
	if s.ExportJSONL != "" {
		w, err := export.OpenJSONL(s.ExportJSONL)
		if err != nil {
			return err
		}
		defer w.Close()
		sinks = append(sinks, w)
		outputs = append(outputs, s.ExportJSONL)
	}

	var db *database.DB
	if s.DBPath != "" {
		db, err = database.Open(s.DBPath, runID, users)
		if err != nil {
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
		outputs = append(outputs, s.DBPath, s.DBPath+"-wal", s.DBPath+"-shm")
	}
	handOutputsToInvoker(outputs...)

	var rules monitor.RuleEngine
	if s.RulesDir != "" && !s.Stealth {
		detector, err := sigma.NewDetector(s.RulesDir, users.Username)
		if err != nil {
			return err
		}
		defer detector.Close()
		rules = detector
	}

	var quarantine monitor.Quarantine
	if s.QuarantineDir != "" && s.Enforce {
		store, err := binary.NewStore(quarantineCacheSize, s.QuarantineDir)
		if err != nil {
			return err
		}
		quarantine = store
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewMetrics(reg)

	orch, err := monitor.New(monitor.Config{
		Interval:     s.Interval(),
		Detector:     s.Detector(),
		ExemptSystem: s.ExemptSystem,
		Enforce:      s.Enforce,
		Stealth:      s.Stealth,
		ExportAll:    s.ExportAll,
		SelfPID:      uint32(os.Getpid()),
		OverloadCPU:  s.OverloadCPU,
		OverloadRAM:  s.OverloadRAM,
	}, sys, monitor.Deps{
		Directory:  dir,
		Policy:     pol,
		Rules:      rules,
		Quarantine: quarantine,
		Hashes:     hashes,
		Sinks:      sinks,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	if s.Once {
		return orch.Cycle(ctx)
	}

	if s.WebListen != "" {
		var store web.EventStore
		if db != nil {
			store = db
		}
		server := web.NewServer(store, reg, s.RulesDir, s.WebListen)
		go func() {
			if err := server.Start(ctx); err != nil {
				log.WithError(err).Error("Web server error")
			}
		}()
	}

	return orch.Run(ctx)
}
