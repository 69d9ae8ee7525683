// Package startup loads and validates the environment-driven
// configuration. The resulting Config value is passed explicitly into
// every component; there is no global configuration state.
package startup
