// Package main runs a notary daemon backed by a persistent uniqueness ledger.
//
// The daemon loads, or creates on the first run, the Schnorr key that defines
// the notary identity, opens the database and serves the HTTP gateway until it
// receives an interruption signal.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	corda "github.com/mvdbos/corda"
	"github.com/mvdbos/corda/core/notary/simple"
	"github.com/mvdbos/corda/core/notary/uniqueness/persistent"
	"github.com/mvdbos/corda/core/store/kv"
	"github.com/mvdbos/corda/crypto/loader"
	"github.com/mvdbos/corda/crypto/schnorr"
	"github.com/mvdbos/corda/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ucli "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

func main() {
	app := makeApp(nil)

	err := app.Run(os.Args)
	if err != nil {
		corda.Logger.Fatal().Err(err).Msg("daemon aborted")
	}
}

// config is the set of parameters of the daemon. The file given with --config
// provides the defaults and the flags take precedence.
type config struct {
	Listen  string `yaml:"listen"`
	DB      string `yaml:"db"`
	Key     string `yaml:"key"`
	Metrics string `yaml:"metrics"`
}

func makeApp(ready chan<- *gateway.Gateway) *ucli.App {
	return &ucli.App{
		Name:  "notaryd",
		Usage: "run a notary uniqueness provider",
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:  "config",
				Usage: "path of an optional YAML configuration file",
			},
			&ucli.StringFlag{
				Name:  "listen",
				Usage: "address of the HTTP gateway",
				Value: "127.0.0.1:2000",
			},
			&ucli.StringFlag{
				Name:  "db",
				Usage: "path of the ledger database",
				Value: "notary.db",
			},
			&ucli.StringFlag{
				Name:  "key",
				Usage: "path of the notary signing key",
				Value: "notary.key",
			},
			&ucli.StringFlag{
				Name:  "metrics",
				Usage: "path of the Prometheus endpoint, empty to disable",
				Value: "/metrics",
			},
		},
		Action: func(ctx *ucli.Context) error {
			return run(ctx, ready)
		},
	}
}

func run(ctx *ucli.Context, ready chan<- *gateway.Gateway) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return xerrors.Errorf("config: %v", err)
	}

	signer, err := loadSigner(cfg.Key)
	if err != nil {
		return xerrors.Errorf("signer: %v", err)
	}

	corda.Logger.Info().
		Str("identity", fmt.Sprintf("%v", signer.GetPublicKey())).
		Msg("notary identity loaded")

	db, err := kv.New(cfg.DB)
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	defer db.Close()

	ledger := persistent.NewLedger(db)

	g := gateway.New(cfg.Listen, simple.NewProvider(ledger, signer), ledger)

	if cfg.Metrics != "" {
		registerMetrics(g, cfg.Metrics)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		g.Stop()
	}()

	if ready != nil {
		ready <- g
	}

	g.Listen()

	return nil
}

func makeConfig(ctx *ucli.Context) (config, error) {
	cfg := config{
		Listen:  ctx.String("listen"),
		DB:      ctx.String("db"),
		Key:     ctx.String("key"),
		Metrics: ctx.String("metrics"),
	}

	path := ctx.String("config")
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, xerrors.Errorf("while reading file: %v", err)
	}

	fileCfg := config{}
	err = yaml.Unmarshal(data, &fileCfg)
	if err != nil {
		return config{}, xerrors.Errorf("while parsing yaml: %v", err)
	}

	cfg = merge(cfg, fileCfg, ctx)

	return cfg, nil
}

// merge applies the values of the file on top of the defaults, unless the flag
// has been set explicitly on the command line.
func merge(cfg, fileCfg config, ctx *ucli.Context) config {
	if fileCfg.Listen != "" && !ctx.IsSet("listen") {
		cfg.Listen = fileCfg.Listen
	}
	if fileCfg.DB != "" && !ctx.IsSet("db") {
		cfg.DB = fileCfg.DB
	}
	if fileCfg.Key != "" && !ctx.IsSet("key") {
		cfg.Key = fileCfg.Key
	}
	if fileCfg.Metrics != "" && !ctx.IsSet("metrics") {
		cfg.Metrics = fileCfg.Metrics
	}

	return cfg
}

func loadSigner(path string) (schnorr.Signer, error) {
	data, err := loader.NewFileLoader(path).LoadOrCreate(generator{})
	if err != nil {
		return schnorr.Signer{}, xerrors.Errorf("while loading key: %v", err)
	}

	signer, err := schnorr.NewSignerFromBytes(data)
	if err != nil {
		return schnorr.Signer{}, xerrors.Errorf("while restoring key: %v", err)
	}

	return signer, nil
}

// generator makes a fresh Schnorr private key when the daemon starts for the
// first time.
//
// - implements loader.Generator
type generator struct{}

// Generate implements loader.Generator. It returns the marshaled private key
// of a new random signer.
func (generator) Generate() ([]byte, error) {
	data, err := schnorr.NewSigner().MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal signer: %v", err)
	}

	return data, nil
}

func registerMetrics(g *gateway.Gateway, path string) {
	registry := prometheus.NewRegistry()

	for _, c := range corda.PromCollectors {
		err := registry.Register(c)
		if err != nil {
			corda.Logger.Warn().Err(err).Msg("failed to register collector")
		}
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	g.RegisterHandler(path, handler.ServeHTTP)
}
