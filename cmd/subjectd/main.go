// Command subjectd is a node's composition root: it loads configuration,
// opens the node's storage and identity, wires the ledger, governance,
// protocol-engine and message-task layers together, and starts the
// network server that carries everything between peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/opencanarias-go/subjectchain/approval"
	"github.com/opencanarias-go/subjectchain/config"
	"github.com/opencanarias-go/subjectchain/core/events"
	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/dispatch"
	"github.com/opencanarias-go/subjectchain/distribution"
	"github.com/opencanarias-go/subjectchain/ledger"
	"github.com/opencanarias-go/subjectchain/network"
	"github.com/opencanarias-go/subjectchain/observability/logging"
	telemetry "github.com/opencanarias-go/subjectchain/observability/otel"
	"github.com/opencanarias-go/subjectchain/schema"
	"github.com/opencanarias-go/subjectchain/storage"
	"github.com/opencanarias-go/subjectchain/tasks"
	"github.com/opencanarias-go/subjectchain/validation"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("SUBJECTD_ENV"))
	service := cfg.Log.Service
	if service == "" {
		service = "subjectd"
	}
	logger := logging.SetupWithFile(service, env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpInsecure := true
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			otlpInsecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize telemetry: %v", err))
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	key, err := loadNodeKey(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to load node key: %v", err))
	}
	identity := &network.Identity{PrivateKey: key, NodeID: key.KeyIdentifier()}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("failed to open database: %v", err))
	}
	defer db.Close()

	schemas := schema.NewHandler()
	emitter := logEmitter{logger}

	ledgerEngine := ledger.NewEngine(db, schemas, ledger.WithNotifier(emitter))
	interpreter := ledgerEngine.Interpreter()

	// transport is filled in once the network server exists; the task
	// manager and protocol engines need a Sender before that server can
	// be constructed, since the server's Handler is the dispatcher built
	// from those same engines.
	transport := &deferredTransport{}
	taskMgr := tasks.NewManager(dispatch.NewSender(transport))

	approvalEngine := approval.NewEngine(interpreter, taskMgr, func(req approval.Request, approved bool) {
		logger.Info("approval request terminated", slog.String("governance_id", req.GovernanceID), slog.Bool("approved", approved))
	}, approval.WithNotifier(emitter))

	validationEngine := validation.NewEngine(db, ledgerEngine, interpreter, ledgerEngine, key)

	distributionEngine := distribution.NewEngine(db, ledgerEngine, interpreter, taskMgr, key, distribution.WithNotifier(emitter))

	dispatcher := dispatch.NewDispatcher(key, approvalEngine, validationEngine, distributionEngine, ledgerEngine, taskMgr)

	netCfg := network.Config{
		ListenAddr: cfg.ListenAddress,
		Seeds:      cfg.BootstrapPeers,
	}
	netServer, err := network.NewPersistentServer(netCfg, identity, dispatcher, db)
	if err != nil {
		panic(fmt.Sprintf("failed to build network server: %v", err))
	}
	transport.server = netServer

	dispatcher.OnGapRequest = func(sender crypto.KeyIdentifier, req dispatch.GapRequest) {
		sn := req.SN
		if req.Genesis {
			sn = 0
		}
		ev, err := ledgerEngine.Event(req.SubjectID, sn)
		if err != nil {
			logger.Warn("gap request for unknown event", slog.Any("error", err))
			return
		}
		var sendErr error
		if req.Genesis {
			sendErr = taskMgr.DirectResponse(sender, dispatch.ExternalEventMsg{Event: ev})
		} else {
			sendErr = taskMgr.DirectResponse(sender, dispatch.ExternalIntermediateEventMsg{Event: ev})
		}
		if sendErr != nil {
			logger.Warn("failed to answer gap request", slog.Any("error", sendErr))
		}
	}

	go serveMetrics(cfg.MetricsAddress, logger)

	logger.Info("subjectd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("node_id", identity.NodeID.String()))

	if err := netServer.Start(); err != nil {
		logger.Error("network server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadNodeKey resolves the node's identity key. A KeystorePath in config
// takes priority: the passphrase comes from the SUBJECTD_KEYSTORE_PASSPHRASE
// environment variable when that is set, and otherwise is read from the
// controlling terminal with echo disabled; with neither available, loading
// fails. It is never read from config or a flag. Without a
// KeystorePath the node falls back to the plaintext NodeKey already in
// config, as before.
func loadNodeKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		return cfg.PrivateKey()
	}

	passphrase := strings.TrimSpace(os.Getenv("SUBJECTD_KEYSTORE_PASSPHRASE"))
	if passphrase == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("keystore %s requires a passphrase: no terminal attached and SUBJECTD_KEYSTORE_PASSPHRASE is unset", cfg.KeystorePath)
		}
		fmt.Fprint(os.Stderr, "Enter keystore passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = string(raw)
	}

	return crypto.LoadFromKeystore(cfg.KeystorePath, passphrase)
}

// deferredTransport breaks the construction cycle between the network
// server (whose Handler is the dispatcher) and the dispatcher's own
// outbound sender (which needs the network server as its Transport): the
// task manager is built first against this empty shell, which starts
// forwarding once server is set.
type deferredTransport struct {
	server *network.Server
}

func (t *deferredTransport) Send(target crypto.KeyIdentifier, env dispatch.Envelope) error {
	if t.server == nil {
		return fmt.Errorf("subjectd: network server not yet started")
	}
	return t.server.Send(target, env)
}

func serveMetrics(addr string, logger *slog.Logger) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", slog.Any("error", err))
	}
}

type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(ev events.Event) {
	l.logger.Info("protocol event", slog.String("type", ev.EventType()))
}
