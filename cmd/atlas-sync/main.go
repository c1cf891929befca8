// Command atlas-sync runs the Atlas attachment downloader standalone
// against a fixed set of peers, continuously draining whatever batches of
// off-chain content get queued and persisting resolved attachments to a
// local store.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stacks-relay/signer-node/atlas"
	"github.com/stacks-relay/signer-node/log"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "Path to the atlas-sync TOML config file",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:   "atlas-sync",
		Usage:  "sync Atlas attachments from a fixed set of peers",
		Flags:  []cli.Flag{configFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fileNetwork treats each configured peer string as both its own outbound
// peer identity and its data URL, the simplest mapping that satisfies
// atlas.Network without a real p2p peer directory.
type fileNetwork struct {
	peers []string
}

func (n *fileNetwork) OutboundPeers() []string { return n.peers }
func (n *fileNetwork) DataURL(peer string) (string, bool) {
	for _, p := range n.peers {
		if p == peer {
			return peer, true
		}
	}
	return "", false
}

func run(c *cli.Context) error {
	var cfg config
	if err := loadConfig(c.String(configFlag.Name), &cfg); err != nil {
		return err
	}

	store, err := atlas.OpenLevelDBStore(cfg.DBPath, cfg.dbTTL())
	if err != nil {
		return fmt.Errorf("opening attachment store: %w", err)
	}
	defer store.Close()

	downloader := atlas.NewDownloader(nil)
	dns := atlas.NewNetDNSResolver()
	transport := atlas.NewHTTPTransport(cfg.Peers)
	network := &fileNetwork{peers: cfg.Peers}
	opts := atlas.ConnectionOptions{
		MaxInflightAttachments:  cfg.MaxInflightAttachments,
		MaxAttachmentRetryCount: cfg.MaxAttachmentRetryCount,
		DNSTimeout:              cfg.dnsTimeout(),
	}

	log.Info("atlas-sync: starting", "peers", len(cfg.Peers), "db_path", cfg.DBPath)
	ticker := time.NewTicker(cfg.tickInterval())
	defer ticker.Stop()

	for range ticker.C {
		resolved, deregister, err := downloader.Run(dns, transport, network, store, opts)
		if err != nil {
			if err == atlas.ErrNoPeers {
				log.Warn("atlas-sync: no peers configured, nothing to sync")
				continue
			}
			log.Error("atlas-sync: tick failed", "err", err)
			continue
		}
		for _, r := range resolved {
			log.Info("atlas-sync: resolved attachment", "hash", r.Instance.ContentHash.Hex(), "contract_id", r.Instance.ContractID)
		}
		if len(deregister) > 0 {
			log.Debug("atlas-sync: events to deregister", "count", len(deregister))
		}
	}
	return nil
}
