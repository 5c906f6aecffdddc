package main

import (
	"context"
	"fmt"
	"os"

	"versfm/cmd"
)

func main() {
	rootCmd, err := cmd.NewRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "versfm:", err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "versfm:", err)
		os.Exit(1)
	}
}
