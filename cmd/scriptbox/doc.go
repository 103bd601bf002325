// Package main is the entry point for the Scriptbox MCP server.
//
// The Scriptbox server implements a secure, configurable Model Context Protocol
// (MCP) server that executes untrusted JavaScript snippets inside an embedded
// restricted interpreter. Every execution passes a static safety analysis before
// it runs, sees only an allow-listed module surface while it runs, and is
// preemptively interrupted when it exceeds its deadline. The server supports
// both stdio and HTTP transports; the run subcommand executes a single snippet
// locally under the same restrictions.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
