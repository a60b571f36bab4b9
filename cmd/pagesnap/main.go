// CLAUDE:SUMMARY pagesnap CLI entry point: capture, visible, serve, mcp and version subcommands.
// Package main provides the pagesnap command.
//
// pagesnap captures full-page screenshots of web pages by scrolling a
// headless Chrome tab, capturing each viewport and stitching the
// segments into one image.
//
// Usage:
//
//	pagesnap capture <url> [-o file] [-f png|jpeg|webp] [-q quality]
//	pagesnap visible <url>
//	pagesnap serve [--addr 127.0.0.1:8088]
//	pagesnap mcp
//
// See --help for all available options.
package main

func main() {
	Execute()
}
