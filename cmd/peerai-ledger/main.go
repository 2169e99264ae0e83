package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avalkov/peerai-ledger/internal/authenticator"
	"github.com/avalkov/peerai-ledger/internal/config"
	"github.com/avalkov/peerai-ledger/internal/metrics"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/avalkov/peerai-ledger/internal/profile"
	"github.com/avalkov/peerai-ledger/internal/reconciler"
	rpccodecs "github.com/avalkov/peerai-ledger/internal/rpc_codecs"
	rpcservices "github.com/avalkov/peerai-ledger/internal/rpc_services"
	dbstorage "github.com/avalkov/peerai-ledger/internal/storage/db"
	memorystorage "github.com/avalkov/peerai-ledger/internal/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xo/dburl"
)

func main() {
	if err := runService(); err != nil {
		log.Crit("Service stopped", "err", err)
	}
}

func runService() error {
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(os.Stdout, log.TerminalFormat(false))))

	cfg, err := config.NewConfig(".env")
	if err != nil {
		return fmt.Errorf("creating config failed: %s", err)
	}

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", err)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stdout, log.TerminalFormat(false))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.Dial(cfg.EthNodeUrl)
	if err != nil {
		return err
	}
	defer client.Close()

	oracleCfg := oracle.Config{
		TokenAddress: common.HexToAddress(cfg.TokenAddress),
		CoreAddress:  common.HexToAddress(cfg.CoreAddress),
		ChainID:      big.NewInt(cfg.ChainID),
		CallTimeout:  cfg.OracleCallTimeout,
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return fmt.Errorf("invalid PRIVATE_KEY: %s", err)
		}
		oracleCfg.SignerKey = key
	}

	ledger, err := oracle.NewEthOracle(client, oracleCfg)
	if err != nil {
		return err
	}

	storage, closeStorage, err := openStorage(ctx, cfg.DbConnectionUrl)
	if err != nil {
		return err
	}
	defer closeStorage()

	policy := oracle.RetryPolicy{Attempts: cfg.ReceiptPollAttempts, Interval: cfg.ReceiptPollInterval}
	ledgerMetrics := metrics.Ledger()

	gateway := profile.NewGateway(ledger, policy, ledgerMetrics)
	engine := reconciler.NewReconciler(storage, ledger, gateway, ledgerMetrics, reconciler.Config{
		Policy:         policy,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	auth := authenticator.NewAuthenticator(storage, cfg.JwtSecret, cfg.TokenDuration)

	server := rpc.NewServer()

	codec := rpccodecs.NewCustomRequestsCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")

	if err := server.RegisterService(rpcservices.NewLedgerService(engine, storage, auth), ""); err != nil {
		return err
	}
	if err := server.RegisterService(rpcservices.NewProfileService(gateway, auth), ""); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ApiPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown failed", "err", err)
		}
	}()

	log.Info("Serving JSON-RPC", "addr", httpServer.Addr, "metrics", cfg.MetricsPath,
		"token", oracleCfg.TokenAddress.Hex(), "core", oracleCfg.CoreAddress.Hex(), "signer", ledger.HasSigner())

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStorage connects to Postgres when a connection url is given and falls
// back to the in-memory store otherwise.
func openStorage(ctx context.Context, connectionUrl string) (ledgerStorage, func(), error) {
	if connectionUrl == "" {
		log.Warn("DB_CONNECTION_URL not set, records are kept in memory only")
		return memorystorage.NewStorage(), func() {}, nil
	}

	parsedConnectionUrl, err := dburl.Parse(connectionUrl)
	if err != nil {
		return nil, nil, err
	}

	storage, err := dbstorage.NewStorage(parsedConnectionUrl.Driver, parsedConnectionUrl.DSN)
	if err != nil {
		return nil, nil, err
	}

	if err := storage.ExecuteMigrations(ctx); err != nil {
		storage.Close()
		return nil, nil, err
	}

	return storage, func() {
		if err := storage.Close(); err != nil {
			log.Warn("Closing storage failed", "err", err)
		}
	}, nil
}

type ledgerStorage interface {
	Create(ctx context.Context, transaction model.Transaction) (bool, error)
	Advance(ctx context.Context, hash string, status model.TxStatus, observed model.Metadata) (bool, error)
	FindByHash(ctx context.Context, hash string) (model.Transaction, error)
	FindByHashes(ctx context.Context, hashes []string) ([]model.Transaction, error)
	FindByOwner(ctx context.Context, ownerID int64, page, limit int) ([]model.Transaction, int, error)
	UpdateStatus(ctx context.Context, hash string, status model.TxStatus) (model.Transaction, error)
	FindUserByUsername(ctx context.Context, username string) (model.User, error)
	FindUserIDByWallet(ctx context.Context, walletAddress string) (*int64, error)
}
