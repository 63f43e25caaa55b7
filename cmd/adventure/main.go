// Command adventure はAIアドベンチャーのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	adventure [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/adventure/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "adventure: %v\n", err)
		os.Exit(1)
	}
}
