// Package flagx helps several independent parsers share one command line:
// each config layer keeps only the flags it owns and ignores the rest.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigFileEnv names the environment variable consulted when no -c/-config
// flag is given.
const ConfigFileEnv = "HOMESYNC_CONFIG"

// FilterArgs keeps only the allowed flags (and their values) from args.
//
// Accepted shapes are "-c conf.json" and "--config=conf.json". A flag given
// as "--name" matches an allowed "-name" as well, mirroring the standard flag
// package which treats both prefixes the same.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags)*2)
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
		allowed[normalize(f)] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if isAllowed(allowed, name) {
				filtered = append(filtered, arg)
			}
			continue
		}

		if !isAllowed(allowed, arg) {
			continue
		}
		filtered = append(filtered, arg)
		// value as the next argument, unless it looks like another flag
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

func isAllowed(allowed map[string]struct{}, name string) bool {
	if _, ok := allowed[name]; ok {
		return true
	}
	_, ok := allowed[normalize(name)]
	return ok
}

func normalize(name string) string {
	return "-" + strings.TrimLeft(name, "-")
}

// JsonConfigFlags returns the JSON config path given via -c or -config in
// os.Args, falling back to $HOMESYNC_CONFIG. Empty means no file.
func JsonConfigFlags() string {
	return ConfigFile(os.Args[1:])
}

// ConfigFile is JsonConfigFlags over an explicit argument list.
func ConfigFile(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	if config == "" {
		config = os.Getenv(ConfigFileEnv)
	}
	return config
}
