package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/beansdb-go/beansdb/config"
	"github.com/beansdb-go/beansdb/lib/logger"
	"github.com/beansdb-go/beansdb/server"
	"github.com/beansdb-go/beansdb/stats"
	"github.com/beansdb-go/beansdb/store/bitcask"
)

var banner = `
   __                        __ __
  / /_  ___  ____ _____  ___/ // /_
 / __ \/ _ \/ __ ` + "`" + `/ __ \/ __  / __ \
/ /_/ /  __/ /_/ / / / / /_/ / /_/ /
\____/\___/\__,_/_/ /_/\__,_/_.___/
`

func main() {
	print(banner)

	var configFile string
	flag.StringVar(&configFile, "conf", "", "path to beansdb.conf (defaults to $CONFIG or ./beansdb.conf)")
	var bind string
	var port int
	var home string
	var engine string
	flag.StringVar(&bind, "bind", "", "override the configured bind address")
	flag.IntVar(&port, "port", 0, "override the configured port (0 = use config)")
	flag.StringVar(&home, "home", "", "override the configured data directory")
	flag.StringVar(&engine, "engine", "", "override the configured front-end engine (loop|gnet)")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("CONFIG")
	}
	config.Setup(configFile)
	cfg := config.Properties

	if bind != "" {
		cfg.Bind = bind
	}
	if port != 0 {
		cfg.Port = port
	}
	if home != "" {
		cfg.Home = home
	}
	if engine != "" {
		cfg.Engine = engine
	}

	logger.Setup(&logger.Settings{
		Path:       "logs",
		Name:       "beansdb",
		Ext:        "log",
		TimeFormat: "2006-01-02",
	})

	eng, err := bitcask.Open(cfg.Home, bitcask.Config{
		Height:          cfg.Height,
		BeforeTime:      int64(cfg.BeforeTime),
		SegmentMaxBytes: 0,
	})
	if err != nil {
		logger.Fatal(fmt.Errorf("beansdb: opening store at %s: %w", cfg.Home, err))
		return
	}
	defer eng.Close()

	counters := stats.New()
	srv := server.New(cfg, eng, counters)

	switch cfg.Engine {
	case "gnet":
		addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
		if err := server.ListenAndServeGnet(srv, addr); err != nil {
			logger.Errorf("beansdb: gnet engine exited: %v", err)
		}
	default:
		if err := srv.ListenAndServeWithSignal(); err != nil {
			logger.Errorf("beansdb: loop engine exited: %v", err)
		}
	}
}
