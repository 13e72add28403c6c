// knet-echo is a minimal demo peer: it binds a Connection and echoes every
// message it receives back to the sender with the Forgettable class. Point
// two instances at each other to see the handshake and fragmentation at
// work.
//
// Configuration comes from knet-echo.yaml in the working directory or from
// KNET_* environment variables:
//
//	bind:  local address to bind (default 127.0.0.1:0)
//	peer:  optional peer address to connect to on startup
//	log:   zap level (default debug)
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/knet-org/knet/pkg/conn"
	"github.com/knet-org/knet/pkg/logging"
)

func main() {
	viper.SetDefault("bind", "127.0.0.1:0")
	viper.SetDefault("peer", "")
	viper.SetDefault("log", "debug")
	viper.SetConfigName("knet-echo")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("knet")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logging.Init(zapcore.InfoLevel)
			logging.Error("config load failed", zap.Error(err))
			os.Exit(1)
		}
	}

	var level zapcore.Level
	if err := level.Set(viper.GetString("log")); err != nil {
		level = zapcore.DebugLevel
	}
	if err := logging.Init(level); err != nil {
		os.Exit(1)
	}
	defer logging.Sync()

	connection, err := conn.NewConnection(viper.GetString("bind"))
	if err != nil {
		logging.Error("bind failed", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("listening", zap.String("addr", connection.LocalAddr().String()))

	if peer := viper.GetString("peer"); peer != "" {
		connection.TryConnect(peer)
		logging.Info("connecting", zap.String("peer", peer))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			if err := connection.Shutdown(); err != nil {
				logging.Error("shutdown", zap.Error(err))
				os.Exit(1)
			}
			return
		case <-ticker.C:
			for {
				event, ok := connection.ReceiveEvent()
				if !ok {
					break
				}
				logging.Info("event",
					zap.Uint8("kind", uint8(event.Kind)),
					zap.Uint32("remoteID", uint32(event.RemoteID)),
					zap.Bool("initiatedByRemote", event.InitiatedByRemote))
			}
			for {
				in, ok := connection.ReceiveData()
				if !ok {
					break
				}
				logging.Info("echoing message",
					zap.Uint32("remoteID", uint32(in.RemoteID)),
					zap.Int("size", len(in.Data)))
				connection.SendForgettableData(in.RemoteID, in.Data)
			}
		}
	}
}
