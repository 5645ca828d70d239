// Command superblog はブログのHTTPサーバーと補助コマンドを起動する。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hitoshi/superblog/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
