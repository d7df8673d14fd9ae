package main

import (
	"context"
	"os"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
