/*
Package log provides structured logging for the orchestrator using zerolog.

A single global Logger is initialized once via Init() and component loggers
are derived from it with WithComponent/WithCTID/WithFeature so every log
line carries enough structure to reconstruct one CTID's reconciliation
history from the log file alone.
*/
package log
