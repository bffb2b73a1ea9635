package main

import (
	"github.com/aarondl/maguard/pinentry"

	"github.com/gookit/color"
)

func (u *uiContext) promptPassword(prompt string) (string, error) {
	password, err := pinentry.Password(color.ClearCode(prompt))
	if err == nil {
		return password, nil
	} else if err != pinentry.ErrNotFound {
		return "", err
	}

	return u.in.LineHidden(prompt)
}

func (u *uiContext) prompt(prompt string) (string, error) {
	line, err := u.in.Line(prompt)
	if err != nil {
		return "", err
	}

	return line, nil
}

func (u *uiContext) getString(key string) (string, error) {
	var str string
	var err error

Again:
	str, err = u.prompt(inputPromptColor.Sprint(key + ": "))
	if err != nil {
		return "", err
	}
	if len(str) == 0 {
		errColor.Println(key, "cannot be empty")
		goto Again
	}

	return str, nil
}
