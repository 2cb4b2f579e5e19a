package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spyglass",
	Short: "🔭 Spyglass - Live terminal and project sync server",
	Long: `# 🔭 Spyglass

**A sync server that mirrors terminal sessions and a project index into the browser.**

## ✨ Features

- 🖥️  **Terminal streaming** over WebSocket with replay on reconnect
- 📦 **Project index sync** as deltas for modern clients, snapshots for legacy ones
- ✂️  **Budget-aware framing** that never splits a multi-byte character
- 🔔 **Bell signal extraction** from agent output

## 🚀 Getting Started

Run **spyglass serve** to start the server.

Use **spyglass serve --help** for configuration options.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// renderMarkdownHelp renders command help as markdown via glamour, falling
// back to cobra's default help when rendering fails.
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString("# " + cmd.Short)
		help.WriteString("\n\n")
	}

	help.WriteString("## 📖 Usage\n\n")
	help.WriteString("```bash\n")
	help.WriteString(cmd.UseLine())
	help.WriteString("\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		help.WriteString("## 🔧 Available Commands\n\n")
		for _, subCmd := range cmd.Commands() {
			if subCmd.IsAvailableCommand() {
				help.WriteString(fmt.Sprintf("- **%s** - %s\n", subCmd.Name(), subCmd.Short))
			}
		}
		help.WriteString("\n")
	}

	if cmd.HasAvailableFlags() {
		help.WriteString("## ⚙️  Flags\n\n")
		if usages := cmd.Flags().FlagUsages(); usages != "" {
			help.WriteString("```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	if cmd.HasParent() && cmd.InheritedFlags().HasFlags() {
		help.WriteString("## 🌐 Global Flags\n\n")
		if usages := cmd.InheritedFlags().FlagUsages(); usages != "" {
			help.WriteString("```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		_ = cmd.Help()
		return
	}

	rendered, err := renderer.Render(help.String())
	if err != nil {
		_ = cmd.Help()
		return
	}

	fmt.Print(rendered)
}
