package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermohost"
)

const (
	ExitFailure = 1
	ExitConfig  = 2
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr picks the exit code from the error kind.
func ExitErr(msg string, err error) cli.ExitCoder {
	var cerr *thermohost.ConfigurationError
	if errors.As(err, &cerr) {
		return Exit(ExitConfig, "%s: %s", msg, Red(err))
	}
	return Exit(ExitFailure, "%s: %s", msg, Red(err))
}
