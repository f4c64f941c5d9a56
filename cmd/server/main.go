package main

import (
	"github.com/cartographai/atlas/internal/server"
	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
