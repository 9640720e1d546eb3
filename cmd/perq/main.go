// Command perq runs the rewards ledger: the dashboard API server and one-shot
// commands that operate on the same data directory.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"perq/config"
)

const configEnvVar = "PERQ_CONFIG"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags shared by every command.
type cli struct {
	configPath string
	output     string
	out        io.Writer

	cfg *config.Config
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv(configEnvVar)); path != "" {
		return path
	}
	return "perq.toml"
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:   "perq",
		Short: "Rewards ledger and simulated transaction engine",
		Long: `perq tracks loyalty points across cards, stakes, a family pool and
marketplace listings, and runs simulated transactions against them.

Run "perq serve" for the dashboard API, or use the one-shot commands below
against the same data directory.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath(), "path to the TOML configuration (env "+configEnvVar+")")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputAuto, "output format: auto, table or json")

	root.AddCommand(
		c.serveCmd(),
		c.statusCmd(),
		c.cardsCmd(),
		c.redeemCmd(),
		c.stakeCmd(),
		c.unstakeCmd(),
		c.contributeCmd(),
		c.convertCmd(),
		c.claimCmd(),
		c.tradeCmd(),
		c.alertsCmd(),
		c.journalCmd(),
		c.configCmd(),
	)
	return root
}

// config loads the configuration once. A missing file is created with the
// defaults.
func (c *cli) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}
