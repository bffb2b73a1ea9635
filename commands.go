package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aarondl/maguard/confirm"
	"github.com/aarondl/maguard/crypt"
	"github.com/aarondl/maguard/enroll"
	"github.com/aarondl/maguard/guard"
	"github.com/aarondl/maguard/osutil"
	"github.com/aarondl/maguard/vault"

	"github.com/atotto/clipboard"
	"github.com/gookit/color"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

var (
	errColor         = color.FgLightRed
	infoColor        = color.FgLightMagenta
	inputPromptColor = color.FgYellow
	keyColor         = color.FgLightGreen
)

func (u *uiContext) list(query string) error {
	infos := u.store.List()

	if len(query) != 0 {
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.AccountName
		}
		matches := fuzzy.FindFold(query, names)

		var filtered []vault.Info
		for _, info := range infos {
			for _, m := range matches {
				if info.AccountName == m {
					filtered = append(filtered, info)
					break
				}
			}
		}
		infos = filtered
	}

	if len(infos) == 0 {
		errColor.Println("No accounts found")
		return nil
	}

	for _, info := range infos {
		line := keyColor.Sprint(info.AccountName)
		if len(info.SteamID) != 0 {
			line += " " + info.SteamID
		}
		if info.Encrypted {
			line += infoColor.Sprint(" (encrypted)")
		}
		fmt.Fprintln(u.out, line)
	}

	return nil
}

// findOne returns an account name iff a single one matched the query, else
// an error message will have been printed to the user.
func (u *uiContext) findOne(query string) (string, bool) {
	infos := u.store.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		if info.SteamID == query {
			return info.AccountName, true
		}
		names[i] = info.AccountName
	}

	matches := fuzzy.FindFold(query, names)
	switch len(matches) {
	case 0:
		errColor.Printf("No matches for query (%q)\n", query)
		return "", false
	case 1:
		if !strings.EqualFold(matches[0], query) {
			infoColor.Printf("using: %s\n", matches[0])
		}
		return matches[0], true
	}

	// If there's an exact match use that
	for _, m := range matches {
		if strings.EqualFold(m, query) {
			return m, true
		}
	}

	sort.Strings(matches)
	errColor.Printf("Multiple matches for query (%q):", query)
	fmt.Print("\n  ")
	fmt.Println(strings.Join(matches, "\n  "))

	return "", false
}

func (u *uiContext) code(query string, copyClip, legacy bool) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	e, ok, err := u.entry(name)
	if err != nil || !ok {
		return err
	}

	codeFn := guard.Code
	if legacy {
		codeFn = guard.LegacyCode
	}

	code, remaining, err := codeFn(e.SharedSecret, 0)
	if err != nil {
		errColor.Println("could not derive a code:", err)
		return nil
	}

	if copyClip {
		if err := clipboard.WriteAll(code); err != nil {
			errColor.Println("failed to copy to clipboard:", err)
			return nil
		}
		infoColor.Printf("copied code for %s (%ds left)\n", e.AccountName, remaining)
		return nil
	}

	fmt.Fprintf(u.out, "%s (%ds left)\n", keyColor.Sprint(code), remaining)
	return nil
}

func (u *uiContext) confirmations(query string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	e, ok, err := u.entry(name)
	if err != nil || !ok {
		return err
	}
	account, ok := u.confirmAccount(e)
	if !ok {
		return nil
	}
	session, ok := u.session(name)
	if !ok {
		return nil
	}

	confs, err := u.confirmer.ListPending(account, session)
	if err != nil {
		errColor.Println("could not list confirmations:", err)
		return nil
	}

	if len(confs) == 0 {
		infoColor.Println("no pending confirmations")
		return nil
	}

	for _, c := range confs {
		age := time.Since(time.Unix(c.CreatedAt, 0)).Truncate(time.Second)
		fmt.Fprintf(u.out, "%s %-8s %s (%s, %s ago)\n",
			keyColor.Sprint(c.ID), c.Kind, c.Description, c.Status, age)
	}

	return nil
}

func (u *uiContext) respond(query, confirmationID string, allow bool) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	e, ok, err := u.entry(name)
	if err != nil || !ok {
		return err
	}
	account, ok := u.confirmAccount(e)
	if !ok {
		return nil
	}
	session, ok := u.session(name)
	if !ok {
		return nil
	}

	decision := confirm.Deny
	if allow {
		decision = confirm.Approve
	}

	accepted, err := u.confirmer.Respond(account, session, confirmationID, decision)
	if err != nil {
		errColor.Printf("could not %s confirmation: %v\n", decision, err)
		return nil
	}
	if !accepted {
		errColor.Println("the service refused, the confirmation may be gone already")
		return nil
	}

	if allow {
		infoColor.Printf("confirmation %s approved\n", confirmationID)
	} else {
		infoColor.Printf("confirmation %s denied\n", confirmationID)
	}
	return nil
}

func (u *uiContext) openDetails(query, confirmationID string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	e, ok, err := u.entry(name)
	if err != nil || !ok {
		return err
	}
	account, ok := u.confirmAccount(e)
	if !ok {
		return nil
	}

	link, err := u.confirmer.DetailsURL(account, confirmationID)
	if err != nil {
		errColor.Println("could not build the details link:", err)
		return nil
	}

	if err := osutil.OpenURL(link); err != nil {
		errColor.Println("could not open a browser:", err)
		fmt.Fprintln(u.out, link)
	}

	return nil
}

func (u *uiContext) attachSession(query string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	infoColor.Printf("paste the logged-in browser cookies for %s\n", name)
	secure, err := u.promptPassword(inputPromptColor.Sprint("steamLoginSecure: "))
	if err != nil {
		return err
	}
	if len(secure) == 0 {
		errColor.Println("Aborted")
		return nil
	}
	sessionID, err := u.prompt(inputPromptColor.Sprint("sessionid: "))
	if err != nil {
		return err
	}

	u.sessions[name] = confirm.Session{Cookies: []*http.Cookie{
		{Name: "steamLoginSecure", Value: secure},
		{Name: "sessionid", Value: sessionID},
	}}

	infoColor.Printf("session attached for %s\n", name)
	return nil
}

func (u *uiContext) enrollInterruptible() error {
	err := u.enrollAccount()
	switch err {
	case nil:
		return nil
	case ErrEnd:
		errColor.Println("Aborted")
		return nil
	default:
		return err
	}
}

func (u *uiContext) enrollAccount() error {
	transport, err := enroll.NewWebTransport()
	if err != nil {
		return err
	}
	session := enroll.NewSession(transport)

	account, err := u.getString("account name")
	if err != nil {
		return err
	}
	password, err := u.promptPassword(inputPromptColor.Sprint("password: "))
	if err != nil {
		return err
	}

	if err := session.Login(account, password); err != nil {
		switch {
		case errors.Is(err, enroll.ErrInvalidAccountName),
			errors.Is(err, enroll.ErrInvalidPassword):
			errColor.Println(err)
		default:
			var remote *enroll.Error
			if errors.As(err, &remote) {
				errColor.Println("login rejected:", remote.Message)
			} else {
				errColor.Println("could not reach the login service:", err)
			}
		}
		return nil
	}

	for {
		switch session.State() {
		case enroll.EmailCodeNeeded, enroll.SmsCodeNeeded:
			infoColor.Println("a confirmation code was sent, enter it (empty line to resend)")
			code, err := u.prompt(inputPromptColor.Sprint("code: "))
			if err != nil {
				return err
			}
			if len(code) == 0 {
				if err := session.SendCode(); err != nil {
					errColor.Println("resend failed:", err)
				} else {
					infoColor.Println("code resent")
				}
				continue
			}
			if err := session.ConfirmCode(code); err != nil {
				errColor.Println(err)
				continue
			}

		case enroll.DeviceConfirmationNeeded:
			infoColor.Println("approve the new authenticator on a trusted device, then press enter")
			if _, err := u.prompt(""); err != nil {
				return err
			}
			if err := session.ConfirmDevice(); err != nil {
				errColor.Println(err)
				continue
			}

		case enroll.Success:
			cred, err := session.IssuedCredential()
			if err != nil {
				return err
			}
			return u.saveCredential(cred)

		default:
			errColor.Println("enrollment failed:", session.Err())
			return nil
		}
	}
}

func (u *uiContext) saveCredential(cred enroll.Credential) error {
	created, err := u.store.Create(vault.Entry{
		AccountName:    cred.AccountName,
		SharedSecret:   cred.SharedSecret,
		IdentitySecret: cred.IdentitySecret,
		RevocationCode: cred.RevocationCode,
		SteamID:        cred.SteamID,
	})
	if err != nil {
		if errors.Is(err, vault.ErrDuplicateAccount) {
			errColor.Printf("%q already exists, the new secrets were NOT saved\n", cred.AccountName)
			errColor.Println("revocation code for the orphaned authenticator:", cred.RevocationCode)
			return nil
		}
		return err
	}

	infoColor.Printf("enrolled %s\n", created.AccountName)
	errColor.Println("WRITE DOWN the revocation code, it is the only way to remove")
	errColor.Println("the authenticator if this credential file is ever lost:")
	fmt.Fprintln(u.out, keyColor.Sprint(created.RevocationCode))
	return nil
}

func (u *uiContext) importFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		errColor.Println("could not read file:", err)
		return nil
	}

	e, err := u.store.Import(data, "")
	if errors.Is(err, crypt.ErrDecryptionFailed) {
		passphrase, perr := u.promptPassword(inputPromptColor.Sprint("import passphrase: "))
		if perr != nil {
			return perr
		}
		e, err = u.store.Import(data, passphrase)
	}

	switch {
	case errors.Is(err, vault.ErrDuplicateAccount):
		errColor.Println(err)
		return nil
	case errors.Is(err, crypt.ErrDecryptionFailed):
		errColor.Println("wrong passphrase or corrupted file")
		return nil
	case errors.Is(err, guard.ErrInvalidSecret):
		errColor.Println("file does not contain a usable credential:", err)
		return nil
	case err != nil:
		return err
	}

	infoColor.Printf("imported %s\n", e.AccountName)
	return nil
}

func (u *uiContext) exportFile(query, path string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	passphrase, err := u.promptPassword(inputPromptColor.Sprint("export passphrase (empty for plaintext): "))
	if err != nil {
		return err
	}

	data, err := u.store.Export(name, passphrase)
	if errors.Is(err, vault.ErrEncrypted) {
		errColor.Println("record is encrypted at rest, the passphrase is required to export it")
		return nil
	}
	if errors.Is(err, crypt.ErrDecryptionFailed) {
		errColor.Println("wrong passphrase or corrupted record")
		return nil
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		errColor.Println("could not write file:", err)
		return nil
	}

	if len(passphrase) == 0 {
		errColor.Printf("exported %s to %s UNENCRYPTED, guard that file\n", name, path)
	} else {
		infoColor.Printf("exported %s to %s\n", name, path)
	}
	return nil
}

func (u *uiContext) deleteAccount(query string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	errColor.Printf("WARNING: This deletes the stored credential for %q irrecoverably\n", name)
	errColor.Println("Without the revocation code the authenticator cannot be removed later, are you sure?")

	line, err := u.prompt(inputPromptColor.Sprintf("type %q to proceed: ", name))
	if err != nil {
		errColor.Println("Aborted")
		if err == ErrEnd {
			return nil
		}
		return err
	}

	if line == name {
		removed, err := u.store.Remove(name)
		if err != nil {
			return err
		}
		if removed {
			delete(u.unlocked, name)
			delete(u.sessions, name)
			errColor.Println("DELETED", name)
		}
	} else {
		errColor.Println("Aborted")
	}

	return nil
}

func (u *uiContext) encryptAccount(query string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	initial, err := u.promptPassword(inputPromptColor.Sprint("passphrase: "))
	if err != nil {
		return err
	}
	if len(initial) == 0 {
		errColor.Println("passphrase cannot be empty")
		return nil
	}

	verify, err := u.promptPassword(inputPromptColor.Sprint("verify passphrase: "))
	if err != nil {
		return err
	}
	if initial != verify {
		errColor.Println("passphrase did not match")
		return nil
	}

	err = u.store.Encrypt(name, initial)
	if errors.Is(err, vault.ErrEncrypted) {
		errColor.Printf("%s is already encrypted\n", name)
		return nil
	}
	if err != nil {
		return err
	}

	infoColor.Printf("%s is now encrypted at rest\n", name)
	return nil
}

func (u *uiContext) decryptAccount(query string) error {
	name, ok := u.findOne(query)
	if !ok {
		return nil
	}

	passphrase, err := u.promptPassword(inputPromptColor.Sprint("passphrase: "))
	if err != nil {
		return err
	}

	err = u.store.Decrypt(name, passphrase)
	switch {
	case errors.Is(err, vault.ErrNotEncrypted):
		errColor.Printf("%s is not encrypted\n", name)
		return nil
	case errors.Is(err, crypt.ErrDecryptionFailed):
		errColor.Println("wrong passphrase or corrupted record")
		return nil
	case err != nil:
		return err
	}

	delete(u.unlocked, name)
	infoColor.Printf("%s is now stored in plaintext\n", name)
	return nil
}

func (u *uiContext) completeAccounts(prefix string) []string {
	var names []string
	for _, info := range u.store.List() {
		if strings.HasPrefix(strings.ToLower(info.AccountName), strings.ToLower(prefix)) {
			names = append(names, info.AccountName)
		}
	}
	return names
}
