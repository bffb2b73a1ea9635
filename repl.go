package main

import (
	"fmt"
	"strings"

	"github.com/gookit/color"
)

const replHelp = `Account commands:
 ls   [query]           - List stored accounts, query restricts to a fuzzy match
 add                    - Enroll a new account (runs the login handshake)
 import <file>          - Import a credential file
 export <query> <file>  - Export an account's credential file
 rm   <query>           - Delete an account's stored credential

Code commands:
 code <query> [-l]      - Show the current login code (-l for the old decimal format)
 cp   <query>           - Copy the current login code to the clipboard

Confirmation commands (needs a web session, see session):
 conf  <query>          - List pending confirmations
 allow <query> <id>     - Approve a pending confirmation
 deny  <query> <id>     - Deny a pending confirmation
 open  <query> <id>     - Open a confirmation's detail page in the browser
 session <query>        - Attach web session cookies for an account

Protection commands:
 encrypt <query>        - Encrypt an account's record at rest
 decrypt <query>        - Remove the at-rest encryption

Common arguments:
  query: an account name or steam id, fuzzy matched against stored accounts
  id:    a confirmation id as shown by conf
`

const (
	promptColor  = color.FgLightBlue
	normalPrompt = "(%s)> "
)

type repl struct {
	ctx *uiContext

	prompt string
}

func (r *repl) run() error {
	r.prompt = promptColor.Sprintf(normalPrompt, r.ctx.shortDir)

	for {
		unknownCmd := false
		line, err := r.ctx.in.Line(r.prompt)
		switch err {
		case ErrInterrupt:
			return err
		case ErrEnd:
			// All done
			return nil
		case nil:
			// Allow through
		default:
			return err
		}

		line = strings.TrimSpace(line)
		splits := strings.Fields(line)
		if len(splits) == 0 {
			continue
		}

		cmd := splits[0]
		splits = splits[1:]

		switch cmd {
		case "ls":
			query := ""
			if len(splits) != 0 {
				query = splits[0]
			}
			err = r.ctx.list(query)

		case "code", "cp":
			if len(splits) < 1 {
				errColor.Printf("syntax: %s <query>\n", cmd)
				continue
			}
			legacy := len(splits) > 1 && splits[1] == "-l"
			err = r.ctx.code(splits[0], cmd == "cp", legacy)

		case "conf":
			if len(splits) < 1 {
				errColor.Println("syntax: conf <query>")
				continue
			}
			err = r.ctx.confirmations(splits[0])

		case "allow", "deny":
			if len(splits) < 2 {
				errColor.Printf("syntax: %s <query> <id>\n", cmd)
				continue
			}
			err = r.ctx.respond(splits[0], splits[1], cmd == "allow")

		case "open":
			if len(splits) < 2 {
				errColor.Println("syntax: open <query> <id>")
				continue
			}
			err = r.ctx.openDetails(splits[0], splits[1])

		case "session":
			if len(splits) < 1 {
				errColor.Println("syntax: session <query>")
				continue
			}
			err = r.ctx.attachSession(splits[0])

		case "add":
			err = r.ctx.enrollInterruptible()

		case "import":
			if len(splits) < 1 {
				errColor.Println("syntax: import <file>")
				continue
			}
			err = r.ctx.importFile(splits[0])

		case "export":
			if len(splits) < 2 {
				errColor.Println("syntax: export <query> <file>")
				continue
			}
			err = r.ctx.exportFile(splits[0], splits[1])

		case "rm":
			if len(splits) < 1 {
				errColor.Println("syntax: rm <query>")
				continue
			}
			err = r.ctx.deleteAccount(splits[0])

		case "encrypt":
			if len(splits) < 1 {
				errColor.Println("syntax: encrypt <query>")
				continue
			}
			err = r.ctx.encryptAccount(splits[0])

		case "decrypt":
			if len(splits) < 1 {
				errColor.Println("syntax: decrypt <query>")
				continue
			}
			err = r.ctx.decryptAccount(splits[0])

		case "version":
			fmt.Fprintln(r.ctx.out, "maguard", version)

		case "help":
			fmt.Print(replHelp)

		case "quit", "exit":
			return nil

		default:
			unknownCmd = true
		}

		if err != nil {
			return err
		}

		if unknownCmd {
			fmt.Println(`unknown command, try "help"`)
		} else {
			r.ctx.in.AddHistory(line)
		}
	}
}
