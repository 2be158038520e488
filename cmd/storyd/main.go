// Command storyd runs the stories API and its background workers.
//
// @title Storyline API
// @version 1.0
// @description Ephemeral stories: upload, feed, views, reactions, highlights.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
