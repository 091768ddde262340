package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// AddFlagValidation wraps a flag so invalid values are rejected while
// parsing, before the command runs.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}

	return v.Value.Set(val)
}

// ValidatePort checks a port flag value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// ValidateTTL checks a cache lifetime flag value.
func ValidateTTL(ttlStr string) error {
	ttl, err := strconv.Atoi(ttlStr)
	if err != nil {
		return fmt.Errorf("invalid ttl: %s", ttlStr)
	}
	if ttl < 0 {
		return fmt.Errorf("ttl must not be negative, got %d", ttl)
	}

	return nil
}
