//go:build !linux

package linux

import "github.com/ardnew/prucam/pkg"

type unsupportedMapper struct{}

func sysMapper() mapper { return unsupportedMapper{} }

func (unsupportedMapper) Map(uint32, int) ([]byte, error) { return nil, pkg.ErrNotSupported }

func (unsupportedMapper) Unmap([]byte) error { return nil }

func openUIO(string) (irqSource, error) { return nil, pkg.ErrNotSupported }
