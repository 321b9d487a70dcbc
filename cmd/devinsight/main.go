package main

import (
	"os"

	"github.com/devinsight/devinsight/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
