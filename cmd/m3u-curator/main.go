// Command m3u-curator: curate IPTV playlists from the command line.
//
//	stats     Count channels per group and guide coverage
//	check     Report whether the configured sources are reachable
//	search    Rank playlist or guide channels against a query
//	verify    Probe streams (simple or quality mode), write the checked playlist
//	epg       Auto-assign guide ids to channels that have none
//	repair    Propose (and optionally apply) replacements for broken channels
//	settings  Show or change the saved prefixes and suffixes
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/plextuner/m3u-curator/internal/config"
)

type command struct {
	name, help string
	run        func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error
}

var commands = []command{
	{"stats", "Count channels per group and guide coverage", runStats},
	{"check", "Report whether the configured sources are reachable", runCheck},
	{"search", "Rank playlist or guide channels against a query", runSearch},
	{"verify", "Probe streams and write the checked playlist", runVerify},
	{"epg", "Auto-assign guide ids to unassigned channels", runEPG},
	{"repair", "Propose replacements for failed or cleared channels", runRepair},
	{"settings", "Show or change the saved prefixes and suffixes", runSettings},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.help)
	}
}

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[m3u-curator] ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cfg := config.Load()
	cfgPath := os.Getenv("M3U_CURATOR_CONFIG")
	if cfgPath == "" {
		cfgPath = "m3u-curator.yaml"
	}
	if err := cfg.LoadFile(cfgPath); err != nil {
		log.Printf("Config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(ctx, cfg, os.Args[2:], os.Stdout); err != nil {
			log.Printf("%s: %v", c.name, err)
			stop()
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(1)
}
