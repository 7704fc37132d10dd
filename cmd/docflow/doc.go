// Command docflow runs document workflows from the command line and
// serves the HTTP API.
//
//	docflow --config docflow.toml run invoice-review doc-123
//	docflow --config docflow.toml process doc-123
//	docflow validate workflows/
//	docflow serve
package main
