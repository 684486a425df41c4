// Command wabridge connects to a messaging engine host and exposes it on the
// command line and over NATS.
package main

import "github.com/lightforgemedia/go-wabridge/internal/cli"

func main() {
	cli.Execute()
}
