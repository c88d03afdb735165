package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mr-browny/ethy/api"
	"github.com/Mr-browny/ethy/business/domain/session"
	"github.com/Mr-browny/ethy/business/domain/transfer"
	"github.com/Mr-browny/ethy/entities"
	"github.com/Mr-browny/ethy/external/ledger"
	"github.com/Mr-browny/ethy/external/wallet"
	"github.com/Mr-browny/ethy/infrastructure/store/pebbledb"
	"github.com/Mr-browny/ethy/infrastructure/store/redisdb"
	"github.com/ardanlabs/conf"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "ETHY_TRANSFER_CLIENT"

type countStore interface {
	transfer.CountStore
	Close() error
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		Wallet struct {
			Url          string        `conf:"optional"`
			InstallUrl   string        `conf:"default:https://metamask.io/download/"`
			ProbeTimeout time.Duration `conf:"default:5s"`
		}
		Ledger struct {
			RpcUrl          string        `conf:"default:http://127.0.0.1:8545"`
			ContractAddress string        `conf:"default:0x845f0C790D23F0d87057fF5C97f5f857b4f575D1"`
			AbiPath         string        `conf:"optional"`
			Decimals        int32         `conf:"default:18"`
			PollInterval    time.Duration `conf:"default:1s"`
		}
		Store struct {
			Backend string `conf:"default:pebble"`
			Folder  string `conf:"default:store"`
			Redis   struct {
				Addr string `conf:"default:localhost:6379"`
				Db   int    `conf:"default:0"`
				Key  string `conf:"default:ethy:transaction-count"`
			}
		}
		Cache struct {
			Ttl time.Duration `conf:"default:5m"`
		}
		Server struct {
			HttpHost         string `conf:"default:0.0.0.0:8000"`
			MetricsNamespace string `conf:"default:ethy_transfer_client"`
		}
		Transfer struct {
			Recipient string `conf:"optional"`
			Amount    string `conf:"optional"`
			Keyword   string `conf:"optional"`
			Message   string `conf:"optional"`
		}
	}

	// load config
	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	store, err := openStore(cfg.Store.Backend, cfg.Store.Folder, cfg.Store.Redis.Addr, cfg.Store.Redis.Db, cfg.Store.Redis.Key)
	if err != nil {
		return errors.Wrap(err, "creating count store")
	}
	defer store.Close()

	contractABI, err := loadABI(cfg.Ledger.AbiPath)
	if err != nil {
		return errors.Wrap(err, "loading contract abi")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := ethclient.DialContext(ctx, cfg.Ledger.RpcUrl)
	if err != nil {
		return errors.Wrapf(err, "dialing ledger node [%s]", cfg.Ledger.RpcUrl)
	}
	defer backend.Close()

	ledgerClient, err := ledger.NewClient(cfg.Ledger.ContractAddress, contractABI, backend, cfg.Ledger.Decimals, cfg.Ledger.PollInterval, sLogger)
	if err != nil {
		return errors.Wrap(err, "creating ledger client")
	}

	defer ledgerClient.Close()

	// the gateway signs through whichever provider the session currently has
	gateway := session.NewGateway(wallet.NewDetector(cfg.Wallet.Url, cfg.Wallet.ProbeTimeout), cfg.Wallet.InstallUrl, sLogger)
	ledgerClient = ledgerClient.WithSigner(gateway)
	_, err = gateway.DetectProvider(ctx)
	if err != nil {
		sLogger.Warnw("No wallet yet, submissions will retry detection", "error", err)
	}

	cache := transfer.NewTransactionCache(cfg.Cache.Ttl)
	defer cache.Stop()

	m := transfer.NewMetrics(cfg.Server.MetricsNamespace)
	controller := transfer.NewController(gateway, ledgerClient, store, cache, m, sLogger, transfer.Config{
		Decimals: cfg.Ledger.Decimals,
		OnTransition: func(t transfer.Transition) {
			sLogger.Debugw("State changed", "from", t.From, "to", t.To, "loading", t.Loading)
		},
	})

	report, err := controller.Startup(ctx)
	if err != nil {
		return errors.Wrap(err, "startup reconciliation")
	}
	sLogger.Infow("Startup reconciliation done", "account", report.Account, "transactionCount", report.TransactionCount,
		"transactions", len(report.Transactions))

	changes := controller.LedgerChanges()
	defer controller.Unsubscribe(changes)
	go func() {
		for range changes {
			_, err := controller.Reload(ctx)
			if err != nil {
				sLogger.Errorw("Reloading ledger state failed", "error", err)
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	submitError := make(chan error, 1)
	request := entities.TransferRequest{
		Recipient: cfg.Transfer.Recipient,
		Amount:    cfg.Transfer.Amount,
		Keyword:   cfg.Transfer.Keyword,
		Message:   cfg.Transfer.Message,
	}
	if request != (entities.TransferRequest{}) {
		go func() {
			result, err := controller.Submit(ctx, request)
			if err != nil {
				submitError <- err
				return
			}
			sLogger.Infow("Transfer recorded", "id", result.Transaction.ID, "hash", result.Transaction.Confirmation.TxHash(),
				"transactionCount", result.TransactionCount)
		}()
	}

	// status and metrics endpoint
	serverError := make(chan error, 1)
	go func() {
		sLogger.Infof("main: Starting status server on addr [%s].", cfg.Server.HttpHost)
		handler := api.NewHandler(controller, sLogger)
		serverError <- http.ListenAndServe(cfg.Server.HttpHost, api.NewServeMux(handler))
	}()

	sLogger.Info("main: Service started.")

	for {
		select {
		case <-shutdown:
			sLogger.Info("main: Received shutdown signal, shutting down...")
			return nil
		case err := <-submitError:
			// rejected or failed submissions leave the client idle, the status view stays up
			sLogger.Errorw("Transfer not recorded", "kind", entities.KindOf(err), "error", err)
		case err := <-serverError:
			return errors.Wrapf(err, "[ERROR] starting server endpoint(s).")
		}
	}
}

func openStore(backend, folder, redisAddr string, redisDb int, redisKey string) (countStore, error) {
	switch backend {
	case "pebble":
		store, err := pebbledb.NewCountStore(folder)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDb})
		return redisdb.NewCountStore(rdb, redisKey), nil
	default:
		return nil, errors.Errorf("unknown store backend [%s]", backend)
	}
}

func loadABI(path string) (abi.ABI, error) {
	if path == "" {
		return ledger.ContractABI()
	}
	return ledger.LoadArtifact(path)
}
