package main

import (
	"errors"
	"io"
	"math"
	"strconv"

	"github.com/aarondl/maguard/confirm"
	"github.com/aarondl/maguard/crypt"
	"github.com/aarondl/maguard/vault"
)

type uiContext struct {
	// Input
	in LineEditor
	// Output
	out io.Writer

	dir      string
	shortDir string

	store     *vault.Store
	confirmer *confirm.Client

	// unlocked caches records decrypted this run so a passphrase is asked
	// for once per account, not once per command.
	unlocked map[string]vault.Entry

	// sessions holds web session cookies per account, attached by the
	// session command.
	sessions map[string]confirm.Session
}

// entry resolves an account to its plaintext record, prompting for the
// record passphrase when it is encrypted at rest. A second boolean false
// means the user was already told why it could not be done.
func (u *uiContext) entry(account string) (vault.Entry, bool, error) {
	e, err := u.store.Get(account)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, vault.ErrEncrypted) {
		return vault.Entry{}, false, err
	}

	if e, ok := u.unlocked[account]; ok {
		return e, true, nil
	}

	passphrase, err := u.promptPassword(inputPromptColor.Sprintf("%s passphrase: ", account))
	if err != nil {
		return vault.Entry{}, false, err
	}

	e, err = u.store.Unlock(account, passphrase)
	if errors.Is(err, crypt.ErrDecryptionFailed) {
		errColor.Println("wrong passphrase or corrupted record")
		return vault.Entry{}, false, nil
	}
	if err != nil {
		return vault.Entry{}, false, err
	}

	u.unlocked[account] = e
	return e, true, nil
}

// confirmAccount builds the confirmation request identity from a record.
func (u *uiContext) confirmAccount(e vault.Entry) (confirm.Account, bool) {
	if e.IdentitySecret == "" {
		errColor.Printf("%s has no identity secret, confirmations are unavailable\n", e.AccountName)
		return confirm.Account{}, false
	}

	steamID, err := strconv.ParseUint(e.SteamID, 10, 64)
	if err != nil {
		errColor.Printf("%s has no usable steam id (%q)\n", e.AccountName, e.SteamID)
		return confirm.Account{}, false
	}
	// Records written by other tools sometimes carry the bare 32-bit
	// account id, the confirmation service wants the 64-bit form.
	if steamID <= math.MaxUint32 {
		steamID = confirm.SteamID64(uint32(steamID))
	}

	return confirm.Account{
		SteamID:        steamID,
		IdentitySecret: e.IdentitySecret,
	}, true
}

// session returns the attached web session for an account, complaining if
// the session command has not been run for it yet.
func (u *uiContext) session(account string) (confirm.Session, bool) {
	s, ok := u.sessions[account]
	if !ok {
		errColor.Printf("no web session attached for %s, use: session %s\n", account, account)
	}
	return s, ok
}
