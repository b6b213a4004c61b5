// Package flagx holds command-line helpers that let several components
// read their own flags from os.Args without tripping over each other.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnvVar = "SESSIONKEEPER_CONFIG"

// FilterArgs returns the subset of args that belong to allowedFlags,
// together with their values.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      --config=conf.json
//
// A value is only taken from the next argument when it does not itself
// look like a flag.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ParseFiltered parses into fs only those arguments whose names were
// defined on fs. Bool flags never consume the following argument.
func ParseFiltered(fs *flag.FlagSet, args []string) error {
	var valued, bools []string
	fs.VisitAll(func(f *flag.Flag) {
		name := "-" + f.Name
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			bools = append(bools, name)
			return
		}
		valued = append(valued, name)
	})

	filtered := FilterArgs(args, valued)
	for _, a := range args {
		name := strings.SplitN(a, "=", 2)[0]
		for _, b := range bools {
			if name == b {
				filtered = append(filtered, a)
			}
		}
	}
	return fs.Parse(filtered)
}

// JsonConfigFlags returns the config file path given via -c or -config.
// When neither flag is present it falls back to $SESSIONKEEPER_CONFIG and
// finally to the empty string.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	if config == "" {
		config = os.Getenv(ConfigEnvVar)
	}
	return config
}
