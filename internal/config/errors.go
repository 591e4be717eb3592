package config

import "errors"

var (
	ErrBusNameRequired      = errors.New("config: busName is required")
	ErrKeyStorePathRequired = errors.New("config: keyStorePath is required")
)
