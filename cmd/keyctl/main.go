// keyctl administra as chaves de API direto na tabela configurada, sem passar
// pelo painel HTTP.
//
// Com o backend file, keyctl e gateway dividem a trava <path>.lock e cada
// mutação relê o arquivo antes de gravar; o gateway vê as mudanças no
// próximo keys.refresh_every. Com badger o diretório fica preso ao gateway
// e keyctl só abre com ele parado.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"romap-gateway/config"
	"romap-gateway/keystore"
	keyinfra "romap-gateway/keystore/infra"
	"romap-gateway/logging"
)

const usage = `usage: keyctl [-config file] <command> [args]

commands:
  issue -name <name> [-admin]   emite uma chave e imprime o segredo
  list                          lista as chaves (sem segredo)
  suspend <id>                  suspende a chave
  activate <id>                 reativa a chave
  revoke <id>                   apaga a chave
`

var errUsage = errors.New("invalid usage")

func main() {
	configPath := flag.String("config", "", "arquivo YAML de configuração (padrão: $ROMAP_CONFIG)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: "warn", Format: "console"})

	if err := run(context.Background(), cfg.Keys, logger, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "keyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.KeysConfig, logger zerolog.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	table, closeTable, err := keyinfra.OpenTable(cfg.Backend, cfg.Path, cfg.BadgerDir)
	if err != nil {
		return err
	}
	defer func() { _ = closeTable() }()
	store := keystore.Open(ctx, table, logger)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "issue":
		fs := flag.NewFlagSet("issue", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		name := fs.String("name", "", "nome da chave")
		admin := fs.Bool("admin", false, "chave sem limite diário")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		secret, err := store.Issue(ctx, *name, *admin)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"apiKey": secret})

	case "list":
		return printJSON(out, map[string]any{"keys": store.List()})

	case "suspend", "activate":
		if len(rest) != 1 {
			return errUsage
		}
		op := store.Suspend
		if cmd == "activate" {
			op = store.Activate
		}
		found, err := op(ctx, rest[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("api key %s not found", rest[0])
		}
		return printJSON(out, map[string]any{"success": true})

	case "revoke":
		if len(rest) != 1 {
			return errUsage
		}
		if err := store.Revoke(ctx, rest[0]); err != nil {
			return err
		}
		return printJSON(out, map[string]any{"success": true})

	default:
		return errUsage
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
