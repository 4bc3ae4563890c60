package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fret/fret/internal/service"
	"github.com/fret/fret/internal/transport"
	"github.com/fret/fret/pkg/interfaces"
	"github.com/fret/fret/pkg/lib/log"
	"github.com/fret/fret/pkg/types"
)

var logger = log.Logger("fretnode")

var (
	listenAddr  = flag.String("listen", "127.0.0.1:0", "address to listen on, host:port (0 = random port)")
	selfID      = flag.String("id", "", "this node's peer id (default: derived from the listen address)")
	configFile  = flag.String("config", "", "path to a JSON config file")
	profile     = flag.String("profile", "", "budget profile: edge or core (default edge)")
	network     = flag.String("network", "", "network namespace protocols are scoped under")
	bootstraps  = flag.String("bootstraps", "", "comma-separated peer=host:port entries to seed the ring from")
	k           = flag.Int("k", 0, "cohort size")
	m           = flag.Int("m", 0, "S/P neighbor-set half-width")
	capacity    = flag.Int("capacity", 0, "Digitree capacity")
	stateFile   = flag.String("state", "", "path to persist the Digitree across restarts")
	diagEvery   = flag.Duration("diag-interval", 10*time.Second, "how often to log a diagnostics snapshot")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fretnode: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	fc := &fileConfig{}
	if *configFile != "" {
		loaded, err := loadConfigFile(*configFile)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		fc = loaded
	}
	applyEnvOverrides(fc)

	cfg := service.DefaultConfig()
	if isFlagSet("profile") || fc.Profile != "" {
		p := fc.Profile
		if isFlagSet("profile") {
			p = *profile
		}
		cfg.Profile = service.Profile(p)
	}
	if isFlagSet("network") || fc.NetworkName != "" {
		name := fc.NetworkName
		if isFlagSet("network") {
			name = *network
		}
		cfg.NetworkName = types.NetworkName(name)
	}
	if isFlagSet("k") || fc.K > 0 {
		if isFlagSet("k") {
			cfg.K = *k
		} else {
			cfg.K = fc.K
		}
	}
	if isFlagSet("m") || fc.M > 0 {
		if isFlagSet("m") {
			cfg.M = *m
		} else {
			cfg.M = fc.M
		}
	}
	if isFlagSet("capacity") || fc.Capacity > 0 {
		if isFlagSet("capacity") {
			cfg.Capacity = *capacity
		} else {
			cfg.Capacity = fc.Capacity
		}
	}

	bootstrapEntries := fc.Bootstraps
	if isFlagSet("bootstraps") && *bootstraps != "" {
		bootstrapEntries = splitAndTrim(*bootstraps, ",")
	}

	listen := *listenAddr
	id := *selfID
	if id == "" {
		id = listen
	}

	host, err := transport.Listen(id, listen)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() { _ = host.Close() }()

	var bootstrapIDs []string
	for _, entry := range bootstrapEntries {
		peerID, addr, ok := strings.Cut(entry, "=")
		if !ok {
			logger.Warn("ignoring malformed bootstrap entry", "entry", entry)
			continue
		}
		host.AddPeer(peerID, addr)
		bootstrapIDs = append(bootstrapIDs, peerID)
	}
	cfg.Bootstraps = bootstrapIDs

	svc, err := service.New(cfg, host, nil)
	if err != nil {
		return fmt.Errorf("construct service: %w", err)
	}

	stateFilePath := *stateFile
	if stateFilePath == "" {
		stateFilePath = fc.StateFile
	}
	if stateFilePath != "" {
		if err := restoreState(svc, stateFilePath); err != nil {
			logger.Warn("failed to restore persisted state", "path", stateFilePath, "err", err)
		}
	}

	svc.SetActivityHandler(interfaces.ActivityHandlerFunc(logOnlyActivityHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	logger.Info("fretnode started", "id", id, "listen", host.Addr(), "profile", cfg.Profile, "k", cfg.K, "m", cfg.M)
	fmt.Printf("fretnode listening on %s as %q (profile=%s k=%d m=%d)\n", host.Addr(), id, cfg.Profile, cfg.K, cfg.M)

	diagTicker := time.NewTicker(*diagEvery)
	defer diagTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case <-sig:
			break loop
		case <-diagTicker.C:
			logDiagnostics(svc)
		}
	}

	fmt.Println("shutting down...")
	if stateFilePath != "" {
		if err := persistState(svc, stateFilePath); err != nil {
			logger.Warn("failed to persist state on shutdown", "path", stateFilePath, "err", err)
		}
	}
	return svc.Stop()
}

// logOnlyActivityHandler is fretnode's reference activity handler: it logs
// the delivered payload and reports a placeholder certificate carrying no
// real signatures, since any actual application-level commit logic is an
// external collaborator's concern (§9).
func logOnlyActivityHandler(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
	logger.Info("activity delivered", "correlationID", correlationID, "cohortSize", len(cohort), "minSigs", minSigs, "bytes", len(activity))
	return types.CommitCertificate{V: 1, Payload: activity}, nil
}

func logDiagnostics(svc *service.Service) {
	est := svc.NetworkSizeEstimate()
	logger.Info("diagnostics",
		"self", types.ShortID(svc.SelfID()),
		"peers", len(svc.Snapshot()),
		"neighbors", len(svc.Neighbors()),
		"sizeEstimate", est.Size,
		"confidence", est.Confidence,
	)
}

func persistState(svc *service.Service, path string) error {
	doc := svc.ExportDocument()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func restoreState(svc *service.Service, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc types.PersistedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	n := svc.ImportDocument(doc)
	logger.Info("restored persisted state", "path", path, "entries", n)
	return nil
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
