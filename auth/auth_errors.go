package auth

import "errors"

var (
	InvalidCredentialsErr  = errors.New("invalid credentials")
	AccountNotActivatedErr = errors.New("account not activated")
	RegistrationFailedErr  = errors.New("registration failed")
	NotLoggedInErr         = errors.New("not logged in")
)
