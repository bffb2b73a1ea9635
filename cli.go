package main

import (
	"os"
	"path/filepath"

	"github.com/integrii/flaggy"
)

var (
	flagHelp        bool
	flagNoColor     bool
	flagNoClearClip bool
	flagDir         string
)

var versionCmd = flaggy.NewSubcommand("version")

func parseCli() {
	defaultDir := ".maguard"
	homeDir, err := os.UserHomeDir()
	if err == nil && len(homeDir) != 0 {
		defaultDir = filepath.Join(homeDir, defaultDir)
	}
	flagDir = defaultDir

	parser := flaggy.NewParser("maguard")
	parser.Bool(&flagNoColor, "", "no-color", "Turn off color output")
	parser.Bool(&flagNoClearClip, "", "no-clear-clip", "Do not clear clipboard on exit")
	parser.Bool(&flagHelp, "h", "help", "Show help")
	parser.String(&flagDir, "d", "dir", "The credential directory to open (can be set by $MAGUARD)")

	versionCmd.Description = "print version and exit"

	parser.AdditionalHelpAppend = "maguard respects $MAGUARD and $PINENTRY env vars\n$PINENTRY can be set to none to prevent it from using pinentry"

	parser.ShowHelpWithHFlag = false
	parser.ShowHelpOnUnexpected = false

	// Configure some bits about the lib
	parser.DisableShowVersionWithVersion()
	if err := parser.SetHelpTemplate(helpTemplate); err != nil {
		// This should never occur
		panic(err)
	}

	parser.AttachSubcommand(versionCmd, 1)
	parser.Parse()

	if flagDir == defaultDir {
		envDir := os.Getenv("MAGUARD")
		if len(envDir) != 0 {
			flagDir = envDir
		}
	}

	if flagHelp {
		parser.ShowHelp()
		os.Exit(0)
	}
}

var helpTemplate = `Usage:
  {{.CommandName}} [flags]{{if .Subcommands}} [command]{{end}}
{{- if .Subcommands}}

Commands:
  {{range .Subcommands -}}
  {{.LongName}}
  {{end -}}
{{- end}}
{{- if .Flags}}
Flags:
  {{- range .Flags}}
  {{if .ShortName}}-{{.ShortName}}{{if .LongName}}, {{else}}  {{end}}{{else}}    {{end}}{{printf "--%-15s" .LongName}}
  {{- if .Description}} {{.Description}}{{end}}
  {{- if and (.DefaultValue) (not (eq "false" .DefaultValue))}} ({{.DefaultValue}}){{end}}
  {{- end -}}
{{- end}}{{if .AppendMessage}}

{{.AppendMessage}}
{{- end}}
`
