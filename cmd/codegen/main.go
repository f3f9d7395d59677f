// Command codegen generates a batch of charge codes and prints them for
// distribution.
//
//	codegen -count 500 -amount 5000 -format csv -out batch.csv
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tawsellah/driverportal-sub000/internal/api"
	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/config"
	"github.com/tawsellah/driverportal-sub000/internal/db"
	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/store/dynamo"
	"github.com/tawsellah/driverportal-sub000/internal/store/memstore"
)

type options struct {
	count  int
	amount int64
	format string
	out    string
	dryRun bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("codegen", flag.ContinueOnError)
	fs.IntVar(&o.count, "count", 0, "number of codes to generate")
	fs.Int64Var(&o.amount, "amount", 0, "value of each code in minor currency units")
	fs.StringVar(&o.format, "format", "csv", "output format: csv, json or yaml")
	fs.StringVar(&o.out, "out", "", "output file (default stdout)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "generate against an in-memory store without persisting")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if errs := api.Validate(chargecode.GenerateRequest{Count: o.count, Amount: o.amount}); errs != nil {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Message
		}
		return o, fmt.Errorf("invalid flags: %s", strings.Join(msgs, "; "))
	}

	switch o.format {
	case "csv", "json", "yaml":
	default:
		return o, fmt.Errorf("unknown format %q", o.format)
	}
	return o, nil
}

type batchDoc struct {
	BatchID string   `json:"batch_id" yaml:"batch_id"`
	Amount  int64    `json:"amount" yaml:"amount"`
	Count   int      `json:"count" yaml:"count"`
	Created string   `json:"created_at" yaml:"created_at"`
	Codes   []string `json:"codes" yaml:"codes"`
}

func writeBatch(w io.Writer, format string, b *chargecode.Batch) error {
	switch format {
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"code", "amount", "batch_id"}); err != nil {
			return err
		}
		amount := strconv.FormatInt(b.Amount, 10)
		for _, c := range b.Codes {
			if err := cw.Write([]string{c.Code, amount, b.BatchID.String()}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case "json", "yaml":
		doc := batchDoc{
			BatchID: b.BatchID.String(),
			Amount:  b.Amount,
			Count:   len(b.Codes),
			Codes:   b.Strings(),
		}
		if len(b.Codes) > 0 {
			doc.Created = b.Codes[0].CreatedAt.UTC().Format(time.RFC3339)
		}
		if format == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(doc)

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (chargecode.Store, func(), error) {
	if dryRun || cfg.StoreBackend == config.BackendMemory {
		return memstore.New(cfg.WalletCurrency), func() {}, nil
	}

	if cfg.StoreBackend == config.BackendDynamoDB {
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			return nil, nil, err
		}
		return dynamo.New(client, dynamo.Tables{
			Codes:        cfg.DynamoDBCodesTable,
			Wallets:      cfg.DynamoDBWalletsTable,
			Transactions: cfg.DynamoDBTransactionsTable,
		}, cfg.WalletCurrency), func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return chargecode.NewRepository(database), func() { database.Close() }, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := chargecode.NewService(store, chargecode.NewGenerator(), chargecode.Options{BatchMax: cfg.CodeBatchMax})
	batch, err := svc.Generate(ctx, opts.count, opts.amount)
	if err != nil {
		return err
	}

	out := stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := writeBatch(out, opts.format, batch); err != nil {
		return err
	}
	logger.Info("charge codes generated", "batch_id", batch.BatchID, "count", len(batch.Codes), "amount", batch.Amount, "dry_run", opts.dryRun)
	return nil
}

func main() {
	logger.Configure(logger.Options{Level: "info", Format: "text"})
	logger.L().SetOutput(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logger.Errorf("codegen: %v", err)
		cancel()
		os.Exit(1)
	}
}
