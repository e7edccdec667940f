package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bugsnag/bugsnag-go"
	"github.com/enescakir/emoji"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"

	"github.com/guildsy/tagsync"
	"github.com/guildsy/tagsync/types"
)

func main() {
	mqttHostPtr := flag.String("mqtt-host", getEnv("MQTT_HOST", "tcp://localhost:1883"), "mqtt server hostname")
	mqttUserPtr := flag.String("mqtt-user", getEnv("MQTT_USER", ""), "mqtt server username")
	mqttPassPtr := flag.String("mqtt-pass", getEnv("MQTT_PASS", ""), "mqtt server password")
	battleTagPtr := flag.String("battletag", getEnv("TAGSYNC_BATTLETAG", ""), "own identity key, e.g. Nomi#1234")
	charPtr := flag.String("character", getEnv("TAGSYNC_CHARACTER", ""), "character token we appear as on the channel")
	realmPtr := flag.String("realm", getEnv("TAGSYNC_REALM", ""), "realm of the character token")
	aliasPtr := flag.String("alias", getEnv("TAGSYNC_ALIAS", ""), "display alias to replicate")
	guildPtr := flag.String("guild", getEnv("TAGSYNC_GUILD", "default"), "guild prefix scoping the channels")
	statePtr := flag.String("state-file", getEnv("TAGSYNC_STATE", "tagsync.json"), "path for persisted profiles and ledger")
	metricsAddrPtr := flag.String("metrics-addr", getEnv("TAGSYNC_METRICS", ""), "address for prometheus metrics (empty = off)")
	showRosterPtr := flag.Bool("show-roster", true, "show table with observed peers")
	rosterRatePtr := flag.Int("refresh-rate", 600, "refresh rate in seconds for the roster table")
	verbosePtr := flag.Bool("verbose", false, "log debug stuff")

	flag.Parse()

	if *verbosePtr {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if key := os.Getenv("BUGSNAG_API_KEY"); key != "" {
		bugsnag.Configure(bugsnag.Configuration{
			APIKey:          key,
			ProjectPackages: []string{"main", "github.com/guildsy/tagsync"},
		})
	}

	if *battleTagPtr == "" {
		logrus.Fatal("a -battletag is required")
	}
	me := types.BattleTag(*battleTagPtr)

	charToken := *charPtr
	if charToken == "" {
		// No character given: appear under the short hostname, like any
		// other long-running daemon on this machine would.
		info, _ := host.Info()
		charToken = strings.Split(info.Hostname, ".")[0]
	}

	transport, err := tagsync.NewMQTTTransport(*mqttHostPtr, *mqttUserPtr, *mqttPassPtr, *guildPtr, types.CharName(charToken))
	if err != nil {
		logrus.Fatalf("failed to reach broker: %v", err)
	}
	defer transport.Close()

	node := tagsync.NewNode(me, transport, clockwork.NewRealClock(), *guildPtr)
	if err := tagsync.LoadStore(node.Store, *statePtr); err != nil {
		logrus.Warnf("could not load saved state: %v", err)
	}

	now := time.Now().Unix()
	node.Store.AddOwnCharacter(charToken, *realmPtr, now)
	if *aliasPtr != "" && *aliasPtr != node.Store.Mine.Alias {
		node.Store.SetAlias(*aliasPtr, now)
	}

	if *metricsAddrPtr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddrPtr, nil); err != nil {
				logrus.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		node.Run(ctx)
		close(runDone)
	}()
	node.Start()
	logrus.Infof("%v %s online in guild %q as %s", emoji.Castle, me, *guildPtr, charToken)

	if *showRosterPtr {
		go func() {
			for {
				time.Sleep(time.Duration(*rosterRatePtr) * time.Second)
				node.PrintTable()
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	node.Stop()
	cancel()
	<-runDone
	if err := tagsync.SaveStore(node.Store, *statePtr); err != nil {
		logrus.Warnf("could not save state: %v", err)
	}
	logrus.Printf("%v profiles saved, goodbye", emoji.WavingHand)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
