// Package sym defines the log symbols for ytmp3 components.
// Symbols are attached to log lines as a structured field so logs can be
// filtered per component without parsing messages.
package sym

// Component symbols.
const (
	AM         = "≡" // configuration
	Dispatch   = "⟶" // admission and dedup
	Pulse      = "꩜" // queue workers
	PulseOpen  = "✿" // worker pool startup
	PulseClose = "❀" // worker pool shutdown
	Janitor    = "⌫" // retention sweeps
	Watch      = "◎" // status multiplexer
	Artifact   = "▤" // artifact storage
	DB         = "⊔" // database/storage layer
	Chat       = "✉" // chat front end
	Server     = "⌂" // HTTP API
)

// SymbolToCommand maps a component symbol to the CLI command that runs it.
var SymbolToCommand = map[string]string{
	AM:       "am",
	Dispatch: "serve",
	Pulse:    "worker",
	Janitor:  "janitor",
	Watch:    "status",
	DB:       "db",
	Chat:     "chat",
}

// CommandToSymbol is the inverse of SymbolToCommand.
var CommandToSymbol = map[string]string{
	"am":      AM,
	"serve":   Dispatch,
	"worker":  Pulse,
	"janitor": Janitor,
	"status":  Watch,
	"db":      DB,
	"chat":    Chat,
}

// CommandDescriptions holds the one-line help shown for each command symbol.
var CommandDescriptions = map[string]string{
	"am":      "Inspect and validate configuration",
	"serve":   "Accept submissions over HTTP",
	"worker":  "Consume the job queue",
	"janitor": "Reclaim expired jobs and artifacts",
	"status":  "Wait for a job to finish",
	"db":      "Inspect job and queue tables",
	"chat":    "Run the chat front end",
}
