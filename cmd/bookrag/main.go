// Package main is the entry point for the bookrag chat server.
//
//	@title			BookRAG Chat API
//	@version		1.0
//	@description	书籍问答服务 - 基于 Milvus 向量检索与引用校验的有依据回答
//
//	@host			localhost:8100
//	@BasePath		/
package main

import (
	"os"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/bookrag/cmd/bookrag/app"
)

func main() {
	if err := app.NewServerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
