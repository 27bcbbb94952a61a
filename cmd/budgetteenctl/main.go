package main

import (
	"context"
	"fmt"
	"os"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
