// Command pluginhubd 持续把各租户的插件配置绑定到运行中的插件单元，
// 并通过 HTTP 对外提供最新的注册表。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pluginhubd: %v\n", err)
		os.Exit(1)
	}
}
