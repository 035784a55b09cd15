package models

import "fmt"

func wrap(sentinel error, msg string) error {
	return fmt.Errorf("failed to search: %s: %w", msg, sentinel)
}
