package utils

import (
	"cmp"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

var (
	ORIGIN_ENV_SHELL  = "env (shell)"
	ORIGIN_ENV_DOTENV = "env (dotenv)"
	ORIGIN_CONFIG     = "config"
)

// Inline-if alternative in Go. Example:
// e ? a : b becomes If(e, a, b)
func If[E bool, T any](exp E, a T, b T) T {
	if exp {
		return a
	} else {
		return b
	}
}

type ResolveCliParamOpts struct {
	Flag      bool
	Env       bool
	Optional  bool
	FlagValue string
	ActPrefix bool

	// Config and ConfigKey are consulted with the lowest precedence.
	Config    *Config
	ConfigKey string
}

// ResolveCliParam looks up a parameter in flags, then the environment,
// then the config file. Only optional parameters may stay empty.
func ResolveCliParam(name string, opts ResolveCliParamOpts) (string, string) {
	var configValue string
	var resolvedSource string

	LogOut.Debugf("looking for value: '%s'\n", name)

	if opts.Config != nil && opts.ConfigKey != "" {
		if v := opts.Config.Get(opts.ConfigKey); v != "" {
			LogOut.Debugf("  found value in: '%s'\n", ORIGIN_CONFIG)
			configValue = v
			resolvedSource = ORIGIN_CONFIG
		}
	}

	if opts.Env {
		envName := name
		if opts.ActPrefix {
			envName = "ACT_" + name
		}
		v, dotEnvSource := getEnvValue(strings.ToUpper(envName), "")
		if v != "" {
			valueSource := If(dotEnvSource, ORIGIN_ENV_DOTENV, ORIGIN_ENV_SHELL)
			LogOut.Debugf("  found value in: '%s'\n", valueSource)
			configValue = v
			resolvedSource = valueSource
		}
	}

	if opts.Flag && opts.FlagValue != "" {
		LogOut.Debug("  found value in flags\n")
		configValue = opts.FlagValue
		resolvedSource = "flag"
	}

	if configValue != "" {
		dbgName := strings.ToLower(name)
		dbgValue := configValue
		for _, s := range []string{"secret", "token", "key", "password", "passphrase"} {
			if strings.Contains(dbgName, s) {
				dbgValue = "********"
			}
		}

		LogOut.Debugf("  evaluated to: '%s'\n", dbgValue)
	}

	if configValue == "" {
		if opts.Optional {
			LogOut.Debugf("  no value (is optional) found for: '%s'\n", name)
		} else {
			log.Panicf("no value for '%s' provided", name)
		}
	}

	return configValue, resolvedSource
}

// IsTruthy reports whether a cli or env value means 'enabled'.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func GetSha256OfBytes(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func ReadFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read file: '%s'", filePath)
	}
	return data, nil
}

func Max[T constraints.Ordered](args ...T) T {
	if len(args) == 0 {
		return *new(T)
	}

	if isNan(args[0]) {
		return args[0]
	}

	max := args[0]
	for _, arg := range args[1:] {
		if isNan(arg) {
			return arg
		}
		if arg > max {
			max = arg
		}
	}
	return max
}

func Min[T constraints.Ordered](args ...T) T {
	if len(args) == 0 {
		return *new(T)
	}

	if isNan(args[0]) {
		return args[0]
	}

	min := args[0]
	for _, arg := range args[1:] {
		if isNan(arg) {
			return arg
		}
		if arg < min {
			min = arg
		}
	}
	return min
}

// Clamp limits v to [lo, hi]. NaN stays NaN.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	return Min(Max(v, lo), hi)
}

func isNan[T cmp.Ordered](arg T) bool {
	return arg != arg
}

func Ordinal(i int) string {
	if i == 0 {
		return "first"
	}

	suffix := "th"
	switch i % 100 {
	case 11, 12, 13:
		suffix = "th"
	default:
		switch i % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}

	return fmt.Sprintf("%d%s", i, suffix)
}
