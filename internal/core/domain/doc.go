// Package domain contains the core value types for the fan-out session
// engine: normalized requests, sessions, engine configuration, and the
// optimization report. Types here carry no infrastructure dependencies.
package domain
