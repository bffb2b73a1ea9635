package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/gookit/color"

	"github.com/aarondl/maguard/confirm"
	"github.com/aarondl/maguard/vault"
)

var version = "0.1.0"

func main() {
	parseCli()

	if flagNoColor {
		color.Disable()
	}

	if versionCmd.Used {
		fmt.Println("maguard", version)
		return
	}

	ctx := &uiContext{
		out:      os.Stdout,
		dir:      flagDir,
		unlocked: make(map[string]vault.Entry),
		sessions: make(map[string]confirm.Session),
	}
	ctx.shortDir = shortPath(ctx.dir)

	if err := setupLineEditor(ctx); err != nil {
		fmt.Printf("error occurred initializing ui: %+v\n", err)
		os.Exit(1)
	}
	defer ctx.in.Close()

	store, warnings, err := vault.Open(flagDir)
	if err != nil {
		fmt.Printf("failed to open %s: %+v\n", flagDir, err)
		os.Exit(1)
	}
	for _, w := range warnings {
		errColor.Println("warning:", w)
	}

	ctx.store = store
	ctx.confirmer = confirm.NewClient(nil)
	ctx.in.SetEntryCompleter(ctx.completeAccounts)

	r := repl{ctx: ctx}
	err = r.run()

	// Login codes end up on the clipboard, don't leave the last one there.
	if !flagNoClearClip {
		_ = clipboard.WriteAll("")
	}

	switch err {
	case nil, ErrEnd:
	case ErrInterrupt:
		fmt.Println("exiting")
		os.Exit(1)
	default:
		fmt.Printf("error occurred: %+v\n", err)
		os.Exit(1)
	}
}

func shortPath(filename string) string {
	parts := strings.Split(filename, string(filepath.Separator))
	if len(parts) == 1 {
		return filename
	}

	var newParts []string
	for _, p := range parts[:len(parts)-1] {
		if len(p) == 0 {
			newParts = append(newParts, p)
			continue
		}
		newParts = append(newParts, string(p[0]))
	}
	newParts = append(newParts, parts[len(parts)-1])

	return strings.Join(newParts, string(filepath.Separator))
}
