// Package config loads the stream client's YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing, so secrets such as the bearer token can stay out of the file.
package config
