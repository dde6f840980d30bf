// Command salesetl loads retail sales CSV extracts into a star-schema
// warehouse and scores the loaded data.
//
// Usage:
//
//	salesetl --config salesetl.yaml ingest sales_store_2025-03.csv
//	salesetl ingest --channel ONLINE s3://exports/2025/03/online.csv
//	salesetl quality run
//	salesetl quality schedule
//	salesetl runs --limit 20
//	salesetl config validate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	// register all backends with the storage factory.
	_ "salesetl/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fatalf("%s %v", color.RedString("error:"), err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
