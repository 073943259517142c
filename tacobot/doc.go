// Package tacobot implements a Discord community bot built around a
// taco-based point economy, backed by MongoDB.
//
// TacoBot reacts to Discord slash commands and gateway events, persists
// per-guild/per-user documents, and exposes a small embedded HTTP server
// for webhooks and a versioned REST API.
//
// Key components of the package include:
//
//   - TacoBot: The main struct that wires everything together.
//   - Discord: Handles the gateway session, slash command registration
//     and event dispatch.
//   - DataStore: The MongoDB-backed persistence layer.
//   - API: The gin-based HTTP server (webhooks, /api/v1, /metrics).
//   - Metrics: The Prometheus exporter, refreshed from aggregate
//     document counts.
//
// Feature cogs live in the command_*.go files: the taco economy,
// Minecraft server control, Twitch account linking, trivia, Giphy
// search, OpenAI chat and free game key tracking.
//
// The sibling swaggersync package keeps the committed OpenAPI
// specification in sync with handler doc comment annotations.
package tacobot
