// Package config holds the settings of the fetch driver: which target to
// request, through which proxies, and how the reactor underneath is tuned.
//
// Settings come from three layers, later ones winning: the defaults of
// NewConfig, an optional YAML file read by LoadConfigFile, and command-line
// flags applied by the caller.
package config
