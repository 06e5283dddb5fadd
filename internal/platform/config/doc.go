// Package config centralizes environment variable parsing so every
// component loads its settings the same way.
package config
