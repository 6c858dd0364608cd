//go:build !linux

package storage

func exchange(_, _ string) error {
	return ErrExchangeUnsupported
}
