package cli

import (
	"github.com/spf13/cobra"
)

type commandRef struct {
	cmd  string
	desc string
}

type commandCategory struct {
	name     string
	commands []commandRef
}

var commandCategories = []commandCategory{
	{
		name: "Scanning",
		commands: []commandRef{
			{"scan <symbol>", "Run the timeframe progression for today (live)"},
			{"scan <symbol> --date D", "Replay a past session"},
			{"scan <symbol> --from D --to D", "Replay a range of sessions"},
			{"schedule", "Start the configured daily scans"},
			{"schedule --now", "Start the scans immediately"},
		},
	},
	{
		name: "Data",
		commands: []commandRef{
			{"sync <symbols...>", "Download base candles into the store"},
			{"market", "Market session status"},
		},
	},
	{
		name: "Journal",
		commands: []commandRef{
			{"trades", "Simulated trades with win rate and exit breakdown"},
			{"sessions", "Scanner sessions and their outcome"},
		},
	},
	{
		name: "Configuration",
		commands: []commandRef{
			{"config show", "Show effective settings"},
			{"config path", "Show config directory"},
			{"config validate", "Validate config.toml"},
			{"version", "Show version information"},
		},
	},
}

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newQuickstartCmd())
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		Long:  "Display all available commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				out := make(map[string][]string, len(commandCategories))
				for _, c := range commandCategories {
					for _, ref := range c.commands {
						out[c.name] = append(out[c.name], ref.cmd)
					}
				}
				return output.JSON(out)
			}

			output.Bold("Breakout Scanner Commands")
			output.Println()

			for _, c := range commandCategories {
				output.Printf("%s\n", output.Cyan(c.name))
				for _, ref := range c.commands {
					output.Printf("  %-32s %s\n", ref.cmd, output.DimText(ref.desc))
				}
				output.Println()
			}

			output.Printf("Use %s for details on any command.\n", output.Cyan("scanner help <command>"))
			return nil
		},
	}
}

func newQuickstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "Getting started guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Quick Start")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{
					title: "Configure Credentials",
					desc:  "Add your Kite Connect API key and access token to credentials.toml.",
					cmd:   "scanner config path  # Shows config directory",
				},
				{
					title: "Download History",
					desc:  "Store a week of one-minute candles for replay.",
					cmd:   "scanner sync RELIANCE --days 7",
				},
				{
					title: "Replay a Session",
					desc:  "Run the progression over a stored day.",
					cmd:   "scanner scan RELIANCE --date 2024-03-04 --source store",
				},
				{
					title: "Review Trades",
					desc:  "Check simulated trades and exit reasons.",
					cmd:   "scanner trades --symbol RELIANCE",
				},
				{
					title: "Scan Live",
					desc:  "Scan today's session as it forms, or schedule it.",
					cmd:   "scanner schedule --symbols RELIANCE,INFY",
				},
			}

			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), i+1, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Configuration Files")
			output.Println()
			output.Printf("  %s - Kite Connect credentials\n", output.Cyan("credentials.toml"))
			output.Printf("  %s - Timeframes, exit rules, market calendar, schedule\n", output.Cyan("config.toml"))
			output.Println()

			output.Printf("  %s Simulated trades only; no orders are placed\n", output.Yellow("⚠"))
			output.Printf("  %s Keep your API credentials secure\n", output.Yellow("⚠"))
			return nil
		},
	}
}
