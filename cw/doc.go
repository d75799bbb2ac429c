// Package cw defines the domain types for continuous-wave (Morse) keying:
// key states, timed key events, and element timing derived from words-per-minute
// speed using the PARIS convention.
package cw
