//go:build !linux

package cli

import "flag"

// Other platforms have a single system adapter.
func (c *Config) registerFlagsOsSpecific(_ *flag.FlagSet) {}
