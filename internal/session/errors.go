package session

import (
	"errors"
	"fmt"
)

var (
	ErrEngine = errors.New("engine error")
	ErrStore  = errors.New("state store error")
	ErrClosed = errors.New("session manager closed")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}
