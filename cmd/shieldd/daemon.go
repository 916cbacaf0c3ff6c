package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"shieldd/internal/challenge"
	"shieldd/internal/config"
	"shieldd/internal/ipc"
	"shieldd/internal/logging"
	"shieldd/internal/notify"
	"shieldd/internal/protection"
	"shieldd/internal/schedule"
	"shieldd/internal/store"
)

func defaultSocketPath() string {
	return config.DefaultConfig().IPC.SocketPath
}

func cmdRun(args []string, background bool) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	socketPath := fs.String("socket", "", "control socket path override")
	fs.Parse(args)

	if background {
		if err := detach(args); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("shieldd started")
		return
	}

	if err := run(*configPath, *socketPath); err != nil {
		fmt.Fprintf(os.Stderr, "shieldd: %v\n", err)
		os.Exit(1)
	}
}

// detach re-executes the daemon in foreground mode, detached from the
// controlling terminal.
func detach(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, append([]string{"run"}, args...)...)
	cmd.SysProcAttr = getDaemonSysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}

func run(configPath, socketOverride string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()

	if socketOverride != "" {
		cfg.IPC.SocketPath = socketOverride
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	log.Info("shieldd starting", "version", version, "storage", cfg.Storage.Type)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctrl, err := protection.New(st, challenge.NewService(), nil, log, protection.Options{
		MathRetryLimit:    cfg.Session.MathRetryLimit,
		TypingRetryLimit:  cfg.Session.TypingRetryLimit,
		EndingSoonWarning: cfg.EndingSoonWarning(),
	})
	if err != nil {
		return fmt.Errorf("init protection engine: %w", err)
	}

	if cfg.Notifications.Enabled {
		ctrl.SetNotifier(buildNotifier(cfg, log))
	}

	sched, err := schedule.New(ctrl, st, nil, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config hot reload. Only the logging level and notification
	// toggles apply live; storage and socket changes need a restart.
	loader.OnChange(func(next *config.Config) {
		log.Info("configuration reloaded")
		if cfg.Storage != next.Storage || cfg.IPC != next.IPC {
			log.Warn("storage and ipc changes take effect on restart")
		}
		if next.Notifications.Enabled {
			ctrl.SetNotifier(buildNotifier(next, log))
		} else {
			ctrl.SetNotifier(nil)
		}
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}

	go sched.Run(ctx, cfg.SchedulerPollInterval())
	go tickLoop(ctx, ctrl, cfg.TickInterval())
	go logEvents(ctx, ctrl, log)

	handler := ipc.NewDaemonHandler(ctrl, sched, log)
	handler.SetReloadFunc(loader.Reload)

	srv, err := ipc.NewServer(ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		MaxConnections: cfg.IPC.MaxConnections,
		OnShutdown:     cancel,
	}, handler, log)
	if err != nil {
		return fmt.Errorf("init ipc server: %w", err)
	}

	pidPath, err := writePidFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	err = srv.Serve(ctx)
	if left := ctrl.Flush(); left > 0 {
		log.Error("unpersisted records at shutdown", "count", left)
	}
	log.Info("shieldd stopped")
	return err
}

// tickLoop drives timer expiry at the configured cadence.
func tickLoop(ctx context.Context, ctrl *protection.Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Tick()
		}
	}
}

// logEvents mirrors engine events into the log.
func logEvents(ctx context.Context, ctrl *protection.Controller, log *logging.Logger) {
	events := ctrl.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case protection.EventActivated:
				log.Info("session activated",
					"session_id", ev.Session.ID,
					"activation_type", ev.Session.ActivationType)
			case protection.EventDeactivated:
				log.Info("session ended",
					"session_id", ev.Session.ID,
					"end_reason", ev.Session.EndReason,
					"attempts", len(ev.Session.BlockedAttempts))
			case protection.EventAttemptRecorded:
				log.Info("blocked attempt recorded",
					"attempt_type", ev.Attempt.AttemptType,
					"target", ev.Attempt.TargetIdentifier)
			case protection.EventChallengeFailed:
				log.Info("sobriety challenge failed")
			}
		}
	}
}

// writePidFile records the daemon pid next to the control socket and
// refuses to start over a live daemon.
func writePidFile(cfg *config.Config) (string, error) {
	path := filepath.Join(filepath.Dir(cfg.IPC.SocketPath), "shieldd.pid")
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
				return "", fmt.Errorf("shieldd already running with pid %d", pid)
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return "", fmt.Errorf("write pid file: %w", err)
	}
	return path, nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Component:  "shieldd",
	})
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return store.NewMemory(), nil
	default:
		return store.Open(cfg.Storage.Path)
	}
}

func buildNotifier(cfg *config.Config, log *logging.Logger) notify.Notifier {
	if cfg.Notifications.Desktop {
		return notify.New(log)
	}
	return &notify.LogNotifier{Log: log}
}

func printStatus(s ipc.StatusPayload) {
	if !s.Active {
		fmt.Println("Protection:   inactive")
	} else {
		fmt.Println("Protection:   ACTIVE")
		fmt.Printf("Session:      %s (%s)\n", s.SessionID, s.ActivationType)
		fmt.Printf("Started:      %s\n", s.StartTime.Local().Format(time.RFC1123))
		if s.ScheduledEndTime != nil {
			fmt.Printf("Ends:         %s\n", s.ScheduledEndTime.Local().Format(time.RFC1123))
		} else {
			fmt.Println("Ends:         no scheduled end")
		}
		if s.RemainingSeconds != nil {
			fmt.Printf("Remaining:    %s\n", (time.Duration(*s.RemainingSeconds) * time.Second).String())
		}
		fmt.Printf("Attempts:     %d\n", s.AttemptCount)
	}
	if s.NextTrigger != nil {
		fmt.Printf("Next trigger: %s\n", s.NextTrigger.Local().Format(time.RFC1123))
	}
	if s.PendingWrites > 0 {
		fmt.Printf("Pending writes: %d\n", s.PendingWrites)
	}
}
